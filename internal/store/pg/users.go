package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"classdesk.org/internal/auth"
)

var _ auth.CredentialStore = (*Store)(nil)

const userColumns = `user_id, org_id, role_id, email, phone, password_hash, active, created_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		phone     sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.RoleID, &u.Email, &phone, &u.PasswordHash, &u.Active, &u.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if phone.Valid {
		p := phone.String
		u.Phone = &p
	}
	if lastLogin.Valid {
		at := lastLogin.Time.UTC()
		u.LastLoginAt = &at
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where user_id = $1`, id)
	return scanUser(row)
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) Insert(ctx context.Context, nu auth.NewUser, passwordHash string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if passwordHash == "" {
		return nil, auth.ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (org_id, role_id, email, phone, password_hash, active, created_at)
		values ($1, $2, $3, $4, $5, $6, now())
		returning `+userColumns,
		nu.OrganizationID, nu.RoleID, nu.Email, nullIfEmpty(nu.Phone), passwordHash, nu.Active,
	)
	u, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return nil, auth.ErrConflict
			case pgErrForeignKeyViolation:
				return nil, auth.ErrInvalidInput
			}
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	if s.db == nil {
		return errNoDB
	}
	if passwordHash == "" {
		return auth.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $1 where user_id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $1 where user_id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) RoleName(ctx context.Context, roleID int64) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var name string
	err := s.db.QueryRowContext(ctx, `select name from roles where role_id = $1`, roleID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
