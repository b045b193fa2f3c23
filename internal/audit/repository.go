package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for audit entries.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TimelineFilters narrows timeline queries. Zero values mean "no filter".
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert persists one audit entry.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries (actor_id, actor_name, ip, user_agent, action, entity, entity_id, old_values, new_values, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ActorID, entry.ActorName, entry.IP, entry.UserAgent,
		entry.Action, entry.Entity, entry.EntityID,
		nullableJSON(entry.OldValues), nullableJSON(entry.NewValues), at)
	return err
}

// TimelineWindow returns entries matching filters, newest first.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at <= $%d", filters.To)
	}
	if actor := strings.TrimSpace(filters.Actor); actor != "" {
		add("actor_name = $%d", actor)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity = $%d", entity)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action = $%d", action)
	}

	query := `SELECT id, actor_id, actor_name, ip, user_agent, action, entity, entity_id, COALESCE(old_values, 'null'::jsonb), COALESCE(new_values, 'null'::jsonb), occurred_at FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.IP, &e.UserAgent,
			&e.Action, &e.Entity, &e.EntityID, &e.OldValues, &e.NewValues, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes entries past the retention cutoff.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_entries WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}

var _ Repository = (*PGRepository)(nil)
