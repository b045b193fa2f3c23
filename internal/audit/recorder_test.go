package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cantoria/cantoria/internal/shared"
	_ "github.com/cantoria/cantoria/testing"
)

type stubQueue struct {
	entries []Entry
	err     error
}

func (q *stubQueue) Enqueue(ctx context.Context, entry Entry) error {
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, entry)
	return nil
}

type stubInsertRepo struct {
	Repository

	entries []Entry
	err     error
}

func (r *stubInsertRepo) Insert(ctx context.Context, entry Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func sessionContext(t *testing.T, userID, name string) context.Context {
	t.Helper()
	sm := shared.NewSessionManager(nil, "test_session", "secret", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser(userID)
	sess.Set(shared.SessionUserNameKey, name)
	ctx := shared.ContextWithSession(context.Background(), sess)
	return shared.ContextWithRequestMeta(ctx, shared.RequestMeta{IP: "198.51.100.4", UserAgent: "cantoria-test"})
}

func TestRecordDerivesActorFromSession(t *testing.T) {
	queue := &stubQueue{}
	rec := NewRecorder(queue, nil, nil, nil)

	rec.Record(sessionContext(t, "12", "Robin"), Change{
		Action:   ActionRoleCreate,
		Entity:   "role",
		EntityID: "3",
		New:      map[string]string{"name": "LIBRARIAN"},
	})

	if len(queue.entries) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(queue.entries))
	}
	entry := queue.entries[0]
	if entry.ActorID != 12 || entry.ActorName != "Robin" {
		t.Fatalf("unexpected actor: %+v", entry)
	}
	if entry.IP != "198.51.100.4" || entry.UserAgent != "cantoria-test" {
		t.Fatalf("unexpected request meta: %+v", entry)
	}
	if entry.Action != ActionRoleCreate || string(entry.NewValues) != `{"name":"LIBRARIAN"}` {
		t.Fatalf("unexpected payload: %+v", entry)
	}
	if entry.At.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestRecordFallsBackToDirectWrite(t *testing.T) {
	queue := &stubQueue{err: errors.New("broker unavailable")}
	repo := &stubInsertRepo{}
	rec := NewRecorder(queue, repo, nil, nil)

	rec.Record(sessionContext(t, "12", "Robin"), Change{Action: ActionRoleDelete, Entity: "role", EntityID: "3"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected direct write after enqueue failure, got %d entries", len(repo.entries))
	}
}

func TestRecordNeverPropagatesFailures(t *testing.T) {
	queue := &stubQueue{err: errors.New("broker unavailable")}
	repo := &stubInsertRepo{err: errors.New("database down")}
	rec := NewRecorder(queue, repo, nil, nil)

	// Both sinks fail; Record must still return normally.
	rec.Record(sessionContext(t, "12", "Robin"), Change{Action: ActionRoleUpdate, Entity: "role", EntityID: "3"})

	// A nil recorder is equally harmless.
	var nilRec *Recorder
	nilRec.Record(context.Background(), Change{Action: ActionRoleUpdate})
}

func TestRecordAnonymousContext(t *testing.T) {
	queue := &stubQueue{}
	rec := NewRecorder(queue, nil, nil, nil)

	rec.Record(context.Background(), Change{Action: ActionUserRoleAssign, Entity: "user_role", EntityID: "9"})

	if len(queue.entries) != 1 {
		t.Fatalf("expected entry despite missing session, got %d", len(queue.entries))
	}
	if queue.entries[0].ActorID != 0 || queue.entries[0].ActorName != "" {
		t.Fatalf("expected empty actor, got %+v", queue.entries[0])
	}
}

func TestRecordSkipsUnserializableSnapshot(t *testing.T) {
	queue := &stubQueue{}
	rec := NewRecorder(queue, nil, nil, nil)

	rec.Record(context.Background(), Change{
		Action:   ActionRolePermissionsUpdate,
		Entity:   "role",
		EntityID: "3",
		New:      make(chan int),
	})

	if len(queue.entries) != 1 {
		t.Fatalf("expected entry, got %d", len(queue.entries))
	}
	if queue.entries[0].NewValues != nil {
		t.Fatalf("expected nil snapshot for unserializable value")
	}
}
