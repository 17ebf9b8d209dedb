package domain

import (
	"context"
	"time"
)

// RedeemStore persists senior redemptions mirrored from the subgraph.
type RedeemStore interface {
	UpsertBatch(ctx context.Context, redeems []SeniorRedeem) (int64, error)
	FetchSeniorRedeems(ctx context.Context, q RedeemQuery) (RedeemPage, error)
	LastBlockTimestamp(ctx context.Context) (time.Time, error)
}

// PoolStore persists the last known pool registry contents.
type PoolStore interface {
	UpsertBatch(ctx context.Context, pools []Pool) error
	List(ctx context.Context) ([]Pool, error)
}
