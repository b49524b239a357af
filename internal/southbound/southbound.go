// Package southbound is the FIB-facing boundary: installing best-path
// decisions in the forwarding plane. The actual FIB writer is an
// external collaborator; this package defines only the interface the
// core consumes (FIBWriter) plus one concrete, optional implementation,
// a best-effort Postgres audit log of FIB adds/withdraws. The audit log
// is never read back by the instance, so losing it loses no
// correctness, only the ability to review history after the fact.
package southbound

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// FIBWriter is the narrow interface the core consumes to install or
// withdraw a best path. Production deployments wire this to whatever
// platform FIB API is available; that implementation lives outside this
// module.
type FIBWriter interface {
	AddRoute(ctx context.Context, instance, afi, prefix, nextHop string, metric uint32) error
	WithdrawRoute(ctx context.Context, instance, afi, prefix string) error
}

// NoopFIBWriter discards every call. Used when no southbound integration
// is configured; this is the default so the core never blocks on a FIB
// connection it doesn't have.
type NoopFIBWriter struct{ Logger *zap.Logger }

func (n NoopFIBWriter) AddRoute(_ context.Context, instance, afi, prefix, nextHop string, metric uint32) error {
	if n.Logger != nil {
		n.Logger.Debug("southbound: add route (noop)",
			zap.String("instance", instance), zap.String("afi", afi),
			zap.String("prefix", prefix), zap.String("next_hop", nextHop), zap.Uint32("metric", metric))
	}
	return nil
}

func (n NoopFIBWriter) WithdrawRoute(_ context.Context, instance, afi, prefix string) error {
	if n.Logger != nil {
		n.Logger.Debug("southbound: withdraw route (noop)",
			zap.String("instance", instance), zap.String("afi", afi), zap.String("prefix", prefix))
	}
	return nil
}

// NewPool opens the audit-log Postgres pool with an eager Ping so
// connectivity problems surface at startup rather than on first write.
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
