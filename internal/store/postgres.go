package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Auth and session queries run outside TenantScope: identity lookup happens
// before a tenant is known, and the users table carries no access policy.

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, display_name, password_hash
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.OrgID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, display_name, password_hash
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.OrgID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateOrg(ctx context.Context, orgID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orgs (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, orgID, name)
	if err != nil {
		return fmt.Errorf("create org: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, org_id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.OrgID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.org_id, u.email, u.display_name, u.password_hash
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.OrgID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// JobSheet collects one job's rows for the closeout renderer. Runs inside
// TenantScope so the collaborator surface inherits tenant isolation.
func (s *PostgresStore) JobSheet(ctx context.Context, orgID, jobID string) (JobSheet, error) {
	var sheet JobSheet
	err := s.WithOrgSnapshot(ctx, orgID, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, org_id, name, profit_chip, updated_at
			FROM jobs
			WHERE id=$1
		`, jobID).Scan(&sheet.Job.ID, &sheet.Job.OrgID, &sheet.Job.Name, &sheet.Job.ProfitChip, &sheet.Job.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("get job: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, org_id, job_id, sku, quantity, updated_at
			FROM material_lines
			WHERE job_id=$1
			ORDER BY sku ASC
		`, jobID)
		if err != nil {
			return fmt.Errorf("list job materials: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var item MaterialLine
			if err := rows.Scan(&item.ID, &item.OrgID, &item.JobID, &item.SKU, &item.Quantity, &item.UpdatedAt); err != nil {
				return fmt.Errorf("scan job material: %w", err)
			}
			sheet.Materials = append(sheet.Materials, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate job materials: %w", err)
		}

		pinRows, err := tx.QueryContext(ctx, `
			SELECT id, org_id, job_id, kind, lat, lng, updated_at
			FROM pins
			WHERE job_id=$1
			ORDER BY kind ASC, id ASC
		`, jobID)
		if err != nil {
			return fmt.Errorf("list job pins: %w", err)
		}
		defer pinRows.Close()
		for pinRows.Next() {
			var item Pin
			if err := pinRows.Scan(&item.ID, &item.OrgID, &item.JobID, &item.Kind, &item.Lat, &item.Lng, &item.UpdatedAt); err != nil {
				return fmt.Errorf("scan job pin: %w", err)
			}
			sheet.Pins = append(sheet.Pins, item)
		}
		if err := pinRows.Err(); err != nil {
			return fmt.Errorf("iterate job pins: %w", err)
		}

		checkRows, err := tx.QueryContext(ctx, `
			SELECT id, org_id, prompt, required, updated_at
			FROM checklist_items
			ORDER BY prompt ASC
		`)
		if err != nil {
			return fmt.Errorf("list checklist: %w", err)
		}
		defer checkRows.Close()
		for checkRows.Next() {
			var item ChecklistItem
			if err := checkRows.Scan(&item.ID, &item.OrgID, &item.Prompt, &item.Required, &item.UpdatedAt); err != nil {
				return fmt.Errorf("scan checklist item: %w", err)
			}
			sheet.Checklist = append(sheet.Checklist, item)
		}
		return checkRows.Err()
	})
	if err != nil {
		return JobSheet{}, err
	}
	return sheet, nil
}

// DayActivity summarizes which jobs saw writes inside the day starting at
// dayStart, for the timesheet formatter.
func (s *PostgresStore) DayActivity(ctx context.Context, orgID string, dayStart time.Time) ([]TimesheetEntry, error) {
	dayEnd := dayStart.Add(24 * time.Hour)
	var entries []TimesheetEntry
	err := s.WithOrgSnapshot(ctx, orgID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT j.id, j.name, MIN(a.updated_at), MAX(a.updated_at), COUNT(*)::int
			FROM jobs j
			JOIN (
				SELECT id AS job_id, updated_at FROM jobs
				UNION ALL
				SELECT job_id, updated_at FROM material_lines
				UNION ALL
				SELECT job_id, updated_at FROM pins
			) a ON a.job_id = j.id
			WHERE a.updated_at >= $1 AND a.updated_at < $2
			GROUP BY j.id, j.name
			ORDER BY MIN(a.updated_at) ASC
		`, dayStart, dayEnd)
		if err != nil {
			return fmt.Errorf("day activity: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var entry TimesheetEntry
			if err := rows.Scan(&entry.JobID, &entry.JobName, &entry.FirstActivity, &entry.LastActivity, &entry.Touches); err != nil {
				return fmt.Errorf("scan day activity: %w", err)
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
