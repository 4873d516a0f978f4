package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const taskColumns = `id, status, phase, job, chunks, counters, log, error, resumed_from,
	created_at, updated_at, started_at, finished_at`

func rowArgs(r *taskRow) []any {
	return []any{r.ID, r.Status, r.Phase, r.Job, r.Chunks, r.Counters, r.Log, r.Error,
		r.ResumedFrom, r.CreatedAt, r.UpdatedAt, r.StartedAt, r.FinishedAt}
}

func (s *PostgresStore) CreateTask(ctx context.Context, rec *models.TaskRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rowArgs(row)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, rec *models.TaskRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			job = EXCLUDED.job,
			chunks = EXCLUDED.chunks,
			counters = EXCLUDED.counters,
			log = EXCLUDED.log,
			error = EXCLUDED.error,
			resumed_from = EXCLUDED.resumed_from,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		rowArgs(row)...)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*models.TaskRecord, error) {
	var r taskRow
	if err := row.Scan(&r.ID, &r.Status, &r.Phase, &r.Job, &r.Chunks, &r.Counters, &r.Log,
		&r.Error, &r.ResumedFrom, &r.CreatedAt, &r.UpdatedAt, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return r.record()
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	rec, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if len(filter.Statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, filter.statusStrings())
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE status = ANY($1) AND finished_at IS NOT NULL AND finished_at < $2`,
		terminalStatuses(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

var _ Store = (*PostgresStore)(nil)
