package auth

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxEmailLength = 150
	maxPhoneLength = 20
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the address format and length.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: email must be at most %d characters", ErrInvalidInput, maxEmailLength)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

// ValidateNewUser checks the operator-supplied fields of a new account.
func ValidateNewUser(nu NewUser) error {
	if err := ValidateEmail(nu.Email); err != nil {
		return err
	}
	if nu.OrganizationID <= 0 {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if nu.RoleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if nu.Phone != nil {
		phone := strings.TrimSpace(*nu.Phone)
		if len(phone) > maxPhoneLength {
			return fmt.Errorf("%w: phone must be at most %d characters", ErrInvalidInput, maxPhoneLength)
		}
	}
	return nil
}
