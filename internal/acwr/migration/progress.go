package migration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
)

type ProgressEvent struct {
	MigrationID         string           `json:"migrationId"`
	Status              Status           `json:"status"`
	BatchID             int              `json:"batchId"`
	CurrentBatch        int              `json:"currentBatch"`
	TotalBatches        int              `json:"totalBatches"`
	ProcessedActivities int              `json:"processedActivities"`
	Successful          int              `json:"successful"`
	Failed              int              `json:"failed"`
	Skipped             int              `json:"skipped"`
	ValidationStatus    integrity.Status `json:"validationStatus,omitempty"`
	Duration            time.Duration    `json:"duration"`
	Message             string           `json:"message,omitempty"`
	Time                time.Time        `json:"time"`
}

// IsBatch reports whether the event closes a batch, rather than announcing
// a status change.
func (e ProgressEvent) IsBatch() bool {
	return e.BatchID > 0
}

// ProgressSink receives progress events. Emit must not block for long, it
// runs on the migration goroutine.
type ProgressSink interface {
	Emit(ctx context.Context, e ProgressEvent)
}

type LogSink struct{}

func (LogSink) Emit(_ context.Context, e ProgressEvent) {
	if !e.IsBatch() {
		log.Infof("migration %s: %s %s", e.MigrationID, e.Status, e.Message)
		return
	}
	log.Debugf("migration %s: batch %d/%d done in %s (ok %d, failed %d, skipped %d, validation %s)",
		e.MigrationID, e.CurrentBatch, e.TotalBatches, e.Duration,
		e.Successful, e.Failed, e.Skipped, e.ValidationStatus)
}

// RedisSink publishes every event on the migration's progress channel.
type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func ProgressChannel(migrationID string) string {
	return "acwr:migration:" + migrationID + ":progress"
}

func (s *RedisSink) Emit(ctx context.Context, e ProgressEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal progress event: %s", err)
		return
	}
	if err := s.rdb.Publish(ctx, ProgressChannel(e.MigrationID), payload).Err(); err != nil {
		log.Warnf("publish migration %s progress: %s", e.MigrationID, err)
	}
}

// MetricsSink counts batches and their duration.
type MetricsSink struct {
	manager *metrics.Manager
}

func NewMetricsSink(manager *metrics.Manager) *MetricsSink {
	return &MetricsSink{manager: manager}
}

func (s *MetricsSink) Emit(_ context.Context, e ProgressEvent) {
	if !e.IsBatch() {
		return
	}
	result := string(e.ValidationStatus)
	if result == "" {
		result = "unvalidated"
	}
	s.manager.CounterMigrationBatches.WithLabelValues(result).Inc()
	s.manager.HistBatchDuration.Observe(e.Duration.Seconds())
}

type MultiSink []ProgressSink

func (m MultiSink) Emit(ctx context.Context, e ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
