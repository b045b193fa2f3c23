package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cantoria/cantoria/internal/audit"
	jobmetrics "github.com/cantoria/cantoria/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord persists one audit entry.
	TaskTypeAuditRecord = "audit:record"
	// TaskTypeAuditPurge removes audit entries past retention.
	TaskTypeAuditPurge = "audit:purge"
)

// AuditRecordPayload carries a serialized audit entry through the queue.
type AuditRecordPayload struct {
	ActorID   int64           `json:"actor_id"`
	ActorName string          `json:"actor_name"`
	IP        string          `json:"ip"`
	UserAgent string          `json:"user_agent"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	At        time.Time       `json:"at"`
}

// NewAuditRecordTask constructs an audit-record task.
func NewAuditRecordTask(payload AuditRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}

// NewAuditPurgeTask constructs an audit retention sweep task.
func NewAuditPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAuditPurge, nil)
}

// AuditJobs processes audit queue tasks on the worker side.
type AuditJobs struct {
	repo      audit.Repository
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewAuditJobs constructs the audit task handlers. Metrics may be nil.
func NewAuditJobs(repo audit.Repository, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditJobs {
	return &AuditJobs{repo: repo, retention: retention, logger: logger, metrics: metrics}
}

// HandleRecord persists one queued audit entry. A malformed payload is not
// retried; a storage error is, via the queue's retry policy.
func (j *AuditJobs) HandleRecord(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("audit_record")
	var payload AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if j.logger != nil {
			j.logger.Error("audit record payload malformed", slog.Any("error", err))
		}
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(j.repo.Insert(ctx, audit.Entry{
		ActorID:   payload.ActorID,
		ActorName: payload.ActorName,
		IP:        payload.IP,
		UserAgent: payload.UserAgent,
		Action:    payload.Action,
		Entity:    payload.Entity,
		EntityID:  payload.EntityID,
		OldValues: payload.OldValues,
		NewValues: payload.NewValues,
		At:        payload.At,
	}))
}

// HandlePurge deletes audit entries older than the configured retention.
func (j *AuditJobs) HandlePurge(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("audit_purge")
	cutoff := time.Now().Add(-j.retention)
	removed, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return tracker.End(err)
	}
	if j.logger != nil {
		j.logger.Info("audit retention sweep",
			slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	}
	return tracker.End(nil)
}
