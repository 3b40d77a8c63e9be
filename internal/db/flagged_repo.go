package db

import (
	"context"

	"sweeper/internal/types"
)

// FlaggedAccountRepository reads the externally curated list of accounts
// whose content triggers the auto-block policy. The engine never writes
// this table.
type FlaggedAccountRepository struct {
	db DBTX
}

// NewFlaggedAccountRepository creates a new FlaggedAccountRepository backed
// by the given database connection (pool or transaction).
func NewFlaggedAccountRepository(db DBTX) *FlaggedAccountRepository {
	return &FlaggedAccountRepository{db: db}
}

// IDSet returns the set of flagged external account ids. Fetch loads this
// once per run and checks the authors of incoming likes against it.
func (r *FlaggedAccountRepository) IDSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT twitter_id FROM flagged_accounts`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list flagged accounts", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan flagged account row", err)
		}
		set[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate flagged account rows", err)
	}
	return set, nil
}

// List returns all flagged accounts with their metadata.
func (r *FlaggedAccountRepository) List(ctx context.Context) ([]*types.FlaggedAccount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, twitter_id, username, COALESCE(comment, '')
		 FROM flagged_accounts
		 ORDER BY username ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list flagged accounts", err)
	}
	defer rows.Close()

	var accounts []*types.FlaggedAccount
	for rows.Next() {
		var a types.FlaggedAccount
		if err := rows.Scan(&a.ID, &a.TwitterID, &a.Username, &a.Comment); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan flagged account row", err)
		}
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate flagged account rows", err)
	}
	return accounts, nil
}
