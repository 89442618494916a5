package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"classdesk.org/internal/auth"
	"classdesk.org/internal/config"
)

type userProvisioner interface {
	EnsureUser(ctx context.Context, nu auth.NewUser, password string) (bool, error)
}

// bootstrapUser creates the configured first account so a fresh deployment
// has someone who can log in and create the rest.
func bootstrapUser(ctx context.Context, svc userProvisioner, b config.Bootstrap, logger *slog.Logger) error {
	if !b.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	created, err := svc.EnsureUser(ctx, auth.NewUser{
		OrganizationID: b.OrganizationID,
		RoleID:         b.RoleID,
		Email:          b.Email,
		Active:         true,
	}, b.Password)
	if err != nil {
		return fmt.Errorf("bootstrap user: %w", err)
	}
	if created {
		logger.Info("bootstrap user created", "email", b.Email)
	} else {
		logger.Info("bootstrap user already exists", "email", b.Email)
	}
	return nil
}
