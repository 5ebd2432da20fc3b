package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"logistics-auth/internal/model"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, role, status, last_login_at, created_at, updated_at`

// FindByEmail matches the stored email exactly. Role is deliberately not
// part of the lookup.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return model.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// CreateRegistration inserts the user, its profile rows and the first
// refresh token in one transaction.
func (r *UserRepository) CreateRegistration(ctx context.Context, reg model.Registration) error {
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		u := reg.User
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, role, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, u.Email, u.PasswordHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt); err != nil {
			if isUniqueViolation(err, usersEmailKey) {
				return model.ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}

		p := reg.Profile
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_profiles (user_id, first_name, last_name, phone, company_name, address, city, province)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, p.FirstName, p.LastName, p.Phone, p.CompanyName, p.Address, p.City, p.Province); err != nil {
			return fmt.Errorf("insert user profile: %w", err)
		}

		if c := reg.Carrier; c != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO carrier_profiles (user_id, company_name, business_license, created_at)
				 VALUES ($1, $2, $3, $4)`,
				u.ID, c.CompanyName, c.BusinessLicense, c.CreatedAt); err != nil {
				return fmt.Errorf("insert carrier profile: %w", err)
			}
		}

		if reg.RefreshToken.TokenHash != "" {
			if err := insertRefreshToken(ctx, tx, reg.RefreshToken); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return err
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if isInvalidID(err) {
		return model.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// List returns users ordered by creation, optionally filtered by status.
func (r *UserRepository) List(ctx context.Context, status model.Status) ([]model.AuthUser, error) {
	query := `SELECT id, email, role, status FROM users`
	args := make([]any, 0, 1)
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.AuthUser, 0)
	for rows.Next() {
		var u model.AuthUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.Status); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Account loads the user with its profile and, for carriers, the company
// record.
func (r *UserRepository) Account(ctx context.Context, id string) (model.Account, error) {
	var (
		a              model.Account
		carrierName    *string
		carrierLicense *string
		carrierSince   *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT u.id, u.email, u.role, u.status, u.created_at, u.last_login_at,
		        COALESCE(p.first_name, ''), COALESCE(p.last_name, ''), COALESCE(p.phone, ''),
		        COALESCE(p.company_name, ''), COALESCE(p.address, ''), COALESCE(p.city, ''),
		        COALESCE(p.province, ''),
		        c.company_name, c.business_license, c.created_at
		 FROM users u
		 LEFT JOIN user_profiles p ON p.user_id = u.id
		 LEFT JOIN carrier_profiles c ON c.user_id = u.id
		 WHERE u.id = $1`, id).
		Scan(&a.ID, &a.Email, &a.Role, &a.Status, &a.AccountInfo.CreatedAt, &a.AccountInfo.LastLoginAt,
			&a.Profile.FirstName, &a.Profile.LastName, &a.Profile.Phone,
			&a.Profile.CompanyName, &a.Profile.Address, &a.Profile.City,
			&a.Profile.Province,
			&carrierName, &carrierLicense, &carrierSince)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return model.Account{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}

	a.Profile.UserID = a.ID
	if carrierName != nil {
		a.Carrier = &model.CarrierProfile{UserID: a.ID, CompanyName: *carrierName}
		if carrierLicense != nil {
			a.Carrier.BusinessLicense = *carrierLicense
		}
		if carrierSince != nil {
			a.Carrier.CreatedAt = *carrierSince
		}
	}
	return a, nil
}
