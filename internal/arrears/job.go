package arrears

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-clinic/internal/jobs"
	"github.com/odyssey-erp/odyssey-clinic/jobs"
)

type snapshotWriter interface {
	Save(ctx context.Context, days int, summary Summary) (Snapshot, error)
}

// SnapshotJob computes the trailing arrears report and stores it.
type SnapshotJob struct {
	service     reporter
	store       snapshotWriter
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	defaultDays int
}

// NewSnapshotJob constructs the job handler.
func NewSnapshotJob(service reporter, store snapshotWriter, logger *slog.Logger, metrics *jobmetrics.Metrics, defaultDays int) *SnapshotJob {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultDays <= 0 {
		defaultDays = 30
	}
	return &SnapshotJob{service: service, store: store, logger: logger, metrics: metrics, defaultDays: defaultDays}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SnapshotJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.service == nil || j.store == nil {
		return errors.New("arrears snapshot: handler not configured")
	}
	payload, err := jobs.DecodeArrearsSnapshot(task)
	if err != nil {
		j.logger.Warn("arrears snapshot payload rejected", slog.Any("error", err))
		return err
	}
	if payload.Days == 0 {
		payload.Days = j.defaultDays
	}

	tracker := j.metrics.Track("arrears_snapshot")
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(slog.Int("days", payload.Days), slog.String("insurance_type", payload.InsuranceType))
	summary, err := j.service.Report(ctx, j.service.Trailing(payload.Days, payload.InsuranceType))
	if err != nil {
		logger.Error("arrears snapshot report", slog.Any("error", err))
		return err
	}
	snap, err := j.store.Save(ctx, payload.Days, summary)
	if err != nil {
		logger.Error("arrears snapshot save", slog.Any("error", err))
		return err
	}
	total, _ := summary.TotalDebt.Float64()
	j.metrics.SetArrearsTotal(payload.InsuranceType, total)
	logger.Info("arrears snapshot stored",
		slog.String("snapshot_id", snap.ID),
		slog.Int("buckets", len(summary.Buckets)),
		slog.String("total_debt", summary.TotalDebt.String()))
	return nil
}
