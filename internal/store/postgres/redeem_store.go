package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/syport/internal/domain"
)

const redeemSelectCols = `r.smart_yield_address, r.account_address, r.senior_bond_id,
	r.underlying_in, r.gain, r.fee, r.for_days, r.transaction_hash, r.block_timestamp`

// RedeemStore implements domain.RedeemStore using PostgreSQL. It doubles as
// a redemption source for the positions view when the service runs against
// its own index.
type RedeemStore struct {
	pool DBTX
}

// NewRedeemStore creates a new RedeemStore.
func NewRedeemStore(pool DBTX) *RedeemStore {
	return &RedeemStore{pool: pool}
}

// UpsertBatch inserts redemptions using a pgx Batch. Rows already present
// (same pool and bond id) are skipped. It returns the number of new rows.
func (s *RedeemStore) UpsertBatch(ctx context.Context, redeems []domain.SeniorRedeem) (int64, error) {
	if len(redeems) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO senior_redeems (
			smart_yield_address, senior_bond_id, account_address,
			underlying_in, gain, fee, for_days,
			transaction_hash, block_timestamp
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9
		) ON CONFLICT (smart_yield_address, senior_bond_id) DO NOTHING`

	for _, r := range redeems {
		batch.Queue(query,
			domain.AddressKey(r.SmartYieldAddress), r.SeniorBondID, domain.AddressKey(r.AccountAddress),
			r.UnderlyingIn, r.Gain, r.Fee, r.ForDays,
			strings.ToLower(r.TransactionHash), r.BlockTimestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range redeems {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert senior redeem batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// FetchSeniorRedeems returns one page of the account's redemptions, newest
// first, and the number of rows matching the filters.
func (s *RedeemStore) FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	q = q.Normalized()
	where, args := redeemFilter(q)

	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM senior_redeems r LEFT JOIN sy_pools p ON p.smart_yield_address = r.smart_yield_address`+where,
		args...,
	).Scan(&count); err != nil {
		return domain.RedeemPage{}, fmt.Errorf("postgres: count senior redeems %s: %w", q.Account, err)
	}

	query := `SELECT ` + redeemSelectCols + `
		FROM senior_redeems r LEFT JOIN sy_pools p ON p.smart_yield_address = r.smart_yield_address` + where +
		fmt.Sprintf(" ORDER BY r.block_timestamp DESC, r.smart_yield_address, r.senior_bond_id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, q.PageSize, q.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.RedeemPage{}, fmt.Errorf("postgres: list senior redeems %s: %w", q.Account, err)
	}
	defer rows.Close()

	page := domain.RedeemPage{Data: []domain.SeniorRedeem{}, Count: count}
	for rows.Next() {
		var r domain.SeniorRedeem
		if err := rows.Scan(
			&r.SmartYieldAddress, &r.AccountAddress, &r.SeniorBondID,
			&r.UnderlyingIn, &r.Gain, &r.Fee, &r.ForDays,
			&r.TransactionHash, &r.BlockTimestamp,
		); err != nil {
			return domain.RedeemPage{}, fmt.Errorf("postgres: scan senior redeem: %w", err)
		}
		page.Data = append(page.Data, r)
	}
	if err := rows.Err(); err != nil {
		return domain.RedeemPage{}, fmt.Errorf("postgres: list senior redeems %s: %w", q.Account, err)
	}
	return page, nil
}

// LastBlockTimestamp returns the newest indexed block time, or the zero time
// if nothing has been indexed.
func (s *RedeemStore) LastBlockTimestamp(ctx context.Context) (time.Time, error) {
	var ts *int64
	if err := s.pool.QueryRow(ctx, "SELECT MAX(block_timestamp) FROM senior_redeems").Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last redeem timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return time.Unix(*ts, 0).UTC(), nil
}

// redeemFilter builds the WHERE clause for q. Filter values equal to "all"
// are omitted.
func redeemFilter(q domain.RedeemQuery) (string, []any) {
	clauses := []string{"r.account_address = $1"}
	args := []any{domain.AddressKey(q.Account)}

	if q.Originator != domain.FilterAll {
		args = append(args, q.Originator)
		clauses = append(clauses, fmt.Sprintf("p.protocol_id = $%d", len(args)))
	}
	if q.Token != domain.FilterAll {
		args = append(args, q.Token)
		clauses = append(clauses, fmt.Sprintf("UPPER(p.underlying_symbol) = UPPER($%d)", len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var _ domain.RedeemStore = (*RedeemStore)(nil)
