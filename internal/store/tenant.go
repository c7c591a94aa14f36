package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrTenantRequired = errors.New("org id required")

// snapshotTxOptions pins read scopes to one snapshot. Under the default
// read-committed level every statement sees its own snapshot, so a write
// committing between two entity queries would yield a delta whose parts
// disagree with each other and with the reported now.
var snapshotTxOptions = &sql.TxOptions{
	Isolation: sql.LevelRepeatableRead,
	ReadOnly:  true,
}

// WithOrg runs fn inside one transaction with the caller's org bound as the
// transaction-scoped app.org_id setting. Every entity table carries a row
// level security policy that reads this setting, so code inside the scope
// cannot observe or write another org's rows even if a query forgets a
// filter. The connection is released on every exit path; errors from fn
// propagate unchanged after rollback.
func (s *PostgresStore) WithOrg(ctx context.Context, orgID string, fn func(tx *sql.Tx) error) error {
	return s.withOrgTx(ctx, orgID, nil, fn)
}

// WithOrgSnapshot is WithOrg for pure reads: the whole scope runs read-only
// at repeatable read, so every query inside observes the same snapshot.
func (s *PostgresStore) WithOrgSnapshot(ctx context.Context, orgID string, fn func(tx *sql.Tx) error) error {
	return s.withOrgTx(ctx, orgID, snapshotTxOptions, fn)
}

func (s *PostgresStore) withOrgTx(ctx context.Context, orgID string, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	if orgID == "" {
		return ErrTenantRequired
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tenant tx: %w", err)
	}

	// set_config with is_local=true scopes the binding to this transaction;
	// nothing leaks onto the pooled connection after commit or rollback.
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.org_id', $1, true)`, orgID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bind org: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenant tx: %w", err)
	}
	return nil
}
