package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/cantoria/cantoria/internal/observability"
	"github.com/cantoria/cantoria/internal/shared"
)

// Queue hands entries to a background writer.
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
}

// Recorder captures who-did-what after a mutation succeeds. Recording is
// strictly best effort: no failure inside Record ever reaches the caller,
// because auditability must not compromise the primary action.
type Recorder struct {
	queue   Queue
	repo    Repository
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRecorder constructs a Recorder. The queue may be nil, in which case
// entries are written straight to the repository.
func NewRecorder(queue Queue, repo Repository, logger *slog.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{queue: queue, repo: repo, logger: logger, metrics: metrics}
}

// Record persists one audit entry for the mutation described by change. The
// actor is re-derived from the session and request metadata in ctx rather
// than taken from the caller. Record never returns an error.
func (rec *Recorder) Record(ctx context.Context, change Change) {
	if rec == nil {
		return
	}

	entry := Entry{
		Action:   change.Action,
		Entity:   change.Entity,
		EntityID: change.EntityID,
		At:       time.Now().UTC(),
	}

	if sess := shared.SessionFromContext(ctx); sess != nil {
		if id, err := strconv.ParseInt(sess.User(), 10, 64); err == nil {
			entry.ActorID = id
		}
		entry.ActorName = sess.Get(shared.SessionUserNameKey)
	}
	meta := shared.RequestMetaFromContext(ctx)
	entry.IP = meta.IP
	entry.UserAgent = meta.UserAgent

	entry.OldValues = rec.marshal(change.Old, change.Action, "old")
	entry.NewValues = rec.marshal(change.New, change.Action, "new")

	if rec.queue != nil {
		if err := rec.queue.Enqueue(ctx, entry); err == nil {
			return
		} else if rec.logger != nil {
			rec.logger.Warn("audit enqueue failed, writing directly",
				slog.String("action", entry.Action), slog.Any("error", err))
		}
	}

	if rec.repo != nil {
		if err := rec.repo.Insert(ctx, entry); err == nil {
			return
		} else if rec.logger != nil {
			rec.logger.Error("audit write failed, entry dropped",
				slog.String("action", entry.Action),
				slog.String("entity", entry.Entity), slog.Any("error", err))
		}
	}
	rec.metrics.AuditEntryDropped()
}

func (rec *Recorder) marshal(v any, action, kind string) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		if rec.logger != nil {
			rec.logger.Warn("audit snapshot serialization failed",
				slog.String("action", action), slog.String("snapshot", kind), slog.Any("error", err))
		}
		return nil
	}
	return data
}
