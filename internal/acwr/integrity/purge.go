package integrity

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	DefaultCheckpointRetention    = 30 * 24 * time.Hour
	DefaultRollbackAuditRetention = 90 * 24 * time.Hour
)

type purgeStore interface {
	PurgeCheckpoints(ctx context.Context, before time.Time) (int, error)
	PurgeRollbackAudit(ctx context.Context, before time.Time) (int, error)
}

type PurgeReport struct {
	CheckpointsBefore time.Time `json:"checkpointsBefore"`
	AuditBefore       time.Time `json:"auditBefore"`
	Checkpoints       int       `json:"checkpoints"`
	AuditEntries      int       `json:"auditEntries"`
}

// Purger removes checkpoints and rollback audit entries past their
// retention period.
type Purger struct {
	store               purgeStore
	checkpointRetention time.Duration
	auditRetention      time.Duration
}

func NewPurger(store purgeStore, checkpointRetention, auditRetention time.Duration) *Purger {
	if checkpointRetention <= 0 {
		checkpointRetention = DefaultCheckpointRetention
	}
	if auditRetention <= 0 {
		auditRetention = DefaultRollbackAuditRetention
	}
	return &Purger{
		store:               store,
		checkpointRetention: checkpointRetention,
		auditRetention:      auditRetention,
	}
}

// Purge runs both purges; a failing one does not stop the other.
func (p *Purger) Purge(ctx context.Context, now time.Time) (PurgeReport, error) {
	report := PurgeReport{
		CheckpointsBefore: now.Add(-p.checkpointRetention).UTC(),
		AuditBefore:       now.Add(-p.auditRetention).UTC(),
	}

	var errs error
	n, err := p.store.PurgeCheckpoints(ctx, report.CheckpointsBefore)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("purge checkpoints: %w", err))
	}
	report.Checkpoints = n

	n, err = p.store.PurgeRollbackAudit(ctx, report.AuditBefore)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("purge rollback audit: %w", err))
	}
	report.AuditEntries = n

	log.Infof("retention purge: %d checkpoint(s) before %s, %d audit entr(ies) before %s",
		report.Checkpoints, report.CheckpointsBefore.Format(time.DateOnly),
		report.AuditEntries, report.AuditBefore.Format(time.DateOnly))

	return report, errs
}

// Run purges once per interval until ctx is done.
func (p *Purger) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Purge(ctx, now()); err != nil {
				log.Errorf("retention purge: %s", err)
			}
		}
	}
}
