package southbound

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/metrics"
)

// AuditWriter appends FIB install/withdraw events to a
// time-partitioned Postgres table in transactional batches. The table
// is pure audit trail: nothing in routingd ever reads it back, so a
// write failure here is logged and otherwise ignored by the caller.
type AuditWriter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewAuditWriter(pool *pgxpool.Pool, logger *zap.Logger) *AuditWriter {
	return &AuditWriter{pool: pool, logger: logger}
}

// FIBAuditEvent is one row of the audit trail.
type FIBAuditEvent struct {
	Instance  string
	AFI       string
	Prefix    string
	NextHop   string
	Metric    uint32
	Withdrawn bool
}

// FlushBatch writes a batch of FIB audit events within one
// transaction, then records duration and row-count metrics.
func (w *AuditWriter) FlushBatch(ctx context.Context, events []FIBAuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	if w.pool == nil {
		return nil // audit sink not configured; a no-op by design
	}

	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var written int64
	for _, e := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO fib_events (instance, afi, prefix, next_hop, metric, withdrawn, event_time)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			e.Instance, e.AFI, e.Prefix, e.NextHop, e.Metric, e.Withdrawn,
		)
		if err != nil {
			return fmt.Errorf("insert fib_events: %w", err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	metrics.DBWriteDuration.WithLabelValues("southbound", "fib_audit_batch").Observe(time.Since(start).Seconds())
	metrics.DBRowsAffectedTotal.WithLabelValues("southbound", "fib_events", "insert").Add(float64(written))
	return nil
}

// AuditFIBWriter implements FIBWriter by appending to the audit log and
// delegating the real FIB write to an inner writer (typically
// NoopFIBWriter, or the production southbound adapter in deployments that
// have one). The audit write runs synchronously in the caller's
// goroutine, before the inner write; the log is non-authoritative, so
// its failures are logged and swallowed and the inner write still runs.
type AuditFIBWriter struct {
	Inner  FIBWriter
	Writer *AuditWriter
}

func (a AuditFIBWriter) AddRoute(ctx context.Context, instance, afi, prefix, nextHop string, metric uint32) error {
	if err := a.Writer.FlushBatch(ctx, []FIBAuditEvent{{
		Instance: instance, AFI: afi, Prefix: prefix, NextHop: nextHop, Metric: metric,
	}}); err != nil {
		a.Writer.logger.Warn("southbound audit write failed", zap.Error(err))
	}
	return a.Inner.AddRoute(ctx, instance, afi, prefix, nextHop, metric)
}

func (a AuditFIBWriter) WithdrawRoute(ctx context.Context, instance, afi, prefix string) error {
	if err := a.Writer.FlushBatch(ctx, []FIBAuditEvent{{
		Instance: instance, AFI: afi, Prefix: prefix, Withdrawn: true,
	}}); err != nil {
		a.Writer.logger.Warn("southbound audit write failed", zap.Error(err))
	}
	return a.Inner.WithdrawRoute(ctx, instance, afi, prefix)
}
