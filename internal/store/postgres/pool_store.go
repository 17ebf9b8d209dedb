package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/syport/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool DBTX
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool DBTX) *PoolStore {
	return &PoolStore{pool: pool}
}

// UpsertBatch inserts or updates pools in a single batch.
func (s *PoolStore) UpsertBatch(ctx context.Context, pools []domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO sy_pools (
			smart_yield_address, protocol_id, controller_address,
			senior_bond_address, junior_bond_address, underlying_address,
			underlying_symbol, underlying_decimals, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (smart_yield_address) DO UPDATE SET
			protocol_id         = EXCLUDED.protocol_id,
			controller_address  = EXCLUDED.controller_address,
			senior_bond_address = EXCLUDED.senior_bond_address,
			junior_bond_address = EXCLUDED.junior_bond_address,
			underlying_address  = EXCLUDED.underlying_address,
			underlying_symbol   = EXCLUDED.underlying_symbol,
			underlying_decimals = EXCLUDED.underlying_decimals,
			updated_at          = NOW()`

	for _, p := range pools {
		batch.Queue(query,
			domain.AddressKey(p.SmartYieldAddress), p.ProtocolID, p.ControllerAddress,
			p.SeniorBondAddress, p.JuniorBondAddress, p.UnderlyingAddress,
			p.UnderlyingSymbol, p.UnderlyingDecimals,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range pools {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert pool batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns every stored pool.
func (s *PoolStore) List(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT smart_yield_address, protocol_id, controller_address,
			senior_bond_address, junior_bond_address, underlying_address,
			underlying_symbol, underlying_decimals
		FROM sy_pools ORDER BY protocol_id, underlying_symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var p domain.Pool
		if err := rows.Scan(
			&p.SmartYieldAddress, &p.ProtocolID, &p.ControllerAddress,
			&p.SeniorBondAddress, &p.JuniorBondAddress, &p.UnderlyingAddress,
			&p.UnderlyingSymbol, &p.UnderlyingDecimals,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

var _ domain.PoolStore = (*PoolStore)(nil)
