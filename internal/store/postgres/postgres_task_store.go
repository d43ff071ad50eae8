package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

const taskColumns = `id, user_id, kind, parameters, status, progress, result, error,
		       worker_id, attempts, created_at, started_at, updated_at, completed_at`

type postgresTaskStore struct {
	db *sql.DB
}

// NewPostgresTaskStore creates a TaskStore backed by relay_schema.tasks.
func NewPostgresTaskStore(db *sql.DB) store.TaskStore {
	return &postgresTaskStore{db: db}
}

func (s *postgresTaskStore) Insert(ctx context.Context, task *types.Task) error {
	params := task.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	query := `
        INSERT INTO relay_schema.tasks (
            id,
            user_id,
            kind,
            parameters,
            status,
            created_at,
            updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $6)
    `
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.Kind,
		[]byte(params),
		state.StatusQueued,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *postgresTaskStore) FindByID(ctx context.Context, taskID string) (*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM relay_schema.tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	return task, nil
}

// ClaimNext relies on a single conditional UPDATE. FOR UPDATE SKIP LOCKED makes a
// concurrent claimer move on to the next queued row instead of waiting on this one,
// and the outer status check keeps the update a no-op if the row changed meanwhile.
func (s *postgresTaskStore) ClaimNext(ctx context.Context, userID int64, workerID string) (*types.Task, error) {
	query := `
		UPDATE relay_schema.tasks
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM relay_schema.tasks
			WHERE user_id = $3 AND status = $4
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $4
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		state.StatusProcessing,
		workerID,
		userID,
		state.StatusQueued,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task for user %d: %w", userID, err)
	}
	return task, nil
}

// MergeProgress uses jsonb concatenation, which replaces top-level keys and never merges deeper.
func (s *postgresTaskStore) MergeProgress(ctx context.Context, taskID string, attempt int, fields map[string]any) (bool, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_schema.tasks
		SET progress = progress || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND status = $3 AND attempts = $4
	`, taskID, payload, state.StatusProcessing, attempt)
	if err != nil {
		return false, fmt.Errorf("merge progress of task %s: %w", taskID, err)
	}
	return rowsChanged(res)
}

func (s *postgresTaskStore) Touch(ctx context.Context, taskID string, attempt int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_schema.tasks
		SET updated_at = NOW()
		WHERE id = $1 AND status = $2 AND attempts = $3
	`, taskID, state.StatusProcessing, attempt)
	if err != nil {
		return false, fmt.Errorf("touch task %s: %w", taskID, err)
	}
	return rowsChanged(res)
}

func (s *postgresTaskStore) Finalize(ctx context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error) {
	if !state.IsValidTransition(state.StatusProcessing, status) || !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize task %s as %s", taskID, status)
	}

	var resultArg any
	if len(result) > 0 {
		resultArg = []byte(result)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_schema.tasks
		SET status = $2,
		    result = $3,
		    error = NULLIF($4, ''),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $5 AND attempts = $6
	`, taskID, status, resultArg, errMsg, state.StatusProcessing, attempt)
	if err != nil {
		return false, fmt.Errorf("finalize task %s: %w", taskID, err)
	}
	return rowsChanged(res)
}

func (s *postgresTaskStore) Requeue(ctx context.Context, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_schema.tasks
		SET status = $2,
		    worker_id = NULL,
		    started_at = NULL,
		    progress = '{}'::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, taskID, state.StatusQueued, state.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("requeue task %s: %w", taskID, err)
	}
	return rowsChanged(res)
}

func (s *postgresTaskStore) RequeueStale(ctx context.Context, staleBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE relay_schema.tasks
		SET status = $1,
		    worker_id = NULL,
		    started_at = NULL,
		    progress = '{}'::jsonb,
		    updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
		RETURNING id
	`, state.StatusQueued, state.StatusProcessing, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("requeue stale tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *postgresTaskStore) ListByUser(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "user_id = $1"
	args := []any{userID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var totalItems int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_schema.tasks WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	selectQuery := `SELECT ` + taskColumns + ` FROM relay_schema.tasks WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return types.NewPaginationResult(tasks, totalItems, page, pageSize), nil
}

func (s *postgresTaskStore) CountAllGroupedByStatus(ctx context.Context, userID int64) (map[state.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM relay_schema.tasks
		WHERE user_id = $1
		GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.TaskStatus]int)
	for rows.Next() {
		var status state.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}

	return result, rows.Err()
}

func (s *postgresTaskStore) Close() error {
	return s.db.Close()
}

func rowsChanged(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		task     types.Task
		params   []byte
		progress []byte
		result   []byte
		errMsg   sql.NullString
		workerID sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Kind,
		&params,
		&task.Status,
		&progress,
		&result,
		&errMsg,
		&workerID,
		&task.Attempts,
		&task.CreatedAt,
		&task.StartedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	); err != nil {
		return nil, err
	}

	if len(params) > 0 {
		task.Parameters = json.RawMessage(params)
	}
	if len(result) > 0 {
		task.Result = json.RawMessage(result)
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &task.Progress); err != nil {
			return nil, fmt.Errorf("decode progress of task %s: %w", task.ID, err)
		}
	}
	task.Error = errMsg.String
	task.WorkerID = workerID.String
	return &task, nil
}
