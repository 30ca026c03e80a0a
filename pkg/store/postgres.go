package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig configures the durable store's connection pool.
type PostgresConfig struct {
	DSN          string
	MaxPoolConns int32
}

// PostgresStore is the durable ResultStore implementation: every method is a
// SQL statement against Postgres via pgx/v5, with schema managed by
// golang-migrate from embedded migration files, applied automatically on
// startup.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool, runs pending migrations, and returns a
// ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxPoolConns > 0 {
		poolCfg.MaxConns = cfg.MaxPoolConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// runMigrations applies every pending embedded migration using a short-lived
// database/sql connection. golang-migrate owns this connection independently
// of the pgxpool used for runtime queries, keeping the migration driver and
// the application driver separate so closing one never closes the other.
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return sourceDriver.Close()
}

func (s *PostgresStore) Save(ctx context.Context, result *model.SubtaskResult) error {
	var order int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('subtask_results_order_seq')`).Scan(&order); err != nil {
		return fmt.Errorf("reserving execution order: %w", err)
	}
	result.ExecutionOrder = order
	if result.Checksum == "" {
		result.Seal()
	}

	tokenUsage, _ := json.Marshal(result.TokenUsage)
	errs, _ := json.Marshal(result.Errors)
	warnings, _ := json.Marshal(result.Warnings)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subtask_results
			(id, subtask_id, workflow_id, batch_id, agent_id, content, generated_at,
			 token_usage, confidence, status, errors, warnings, execution_order, attempt, checksum)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, result.ID, result.SubtaskID, result.WorkflowID, result.BatchID, result.AgentID, result.Content,
		result.GeneratedAt, tokenUsage, result.Confidence, result.Status, errs, warnings,
		result.ExecutionOrder, result.Attempt, result.Checksum)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSubtask(ctx context.Context, subtask *model.Subtask) error {
	deps, _ := json.Marshal(subtask.Dependencies)
	meta, _ := json.Marshal(subtask.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subtasks (id, parent_workflow_id, title, description, type, priority, status,
			dependencies, metadata, assigned_agent_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			assigned_agent_id = EXCLUDED.assigned_agent_id,
			metadata = EXCLUDED.metadata
	`, subtask.ID, subtask.ParentWorkflowID, subtask.Title, subtask.Description, subtask.Type,
		subtask.Priority, subtask.Status, deps, meta, nullableString(subtask.AssignedAgentID), subtask.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, meta BatchMetadata) error {
	subtaskIDs, _ := json.Marshal(meta.SubtaskIDs)

	var workflowID string
	if len(meta.SubtaskIDs) > 0 {
		if err := s.pool.QueryRow(ctx, `SELECT parent_workflow_id FROM subtasks WHERE id = $1`, meta.SubtaskIDs[0]).Scan(&workflowID); err != nil {
			return fmt.Errorf("resolving batch workflow id: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_metadata (batch_id, workflow_id, batch_index, subtask_ids, started_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (batch_id) DO NOTHING
	`, meta.BatchID, workflowID, meta.BatchIndex, subtaskIDs, meta.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting batch metadata: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) scanResults(rows rowsScanner) ([]*model.SubtaskResult, error) {
	var out []*model.SubtaskResult
	for rows.Next() {
		var r model.SubtaskResult
		var tokenUsage, errs, warnings []byte
		if err := rows.Scan(&r.ID, &r.SubtaskID, &r.WorkflowID, &r.BatchID, &r.AgentID, &r.Content,
			&r.GeneratedAt, &tokenUsage, &r.Confidence, &r.Status, &errs, &warnings,
			&r.ExecutionOrder, &r.Attempt, &r.Checksum); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		_ = json.Unmarshal(tokenUsage, &r.TokenUsage)
		_ = json.Unmarshal(errs, &r.Errors)
		_ = json.Unmarshal(warnings, &r.Warnings)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// rowsScanner is the subset of pgx.Rows used by scanResults.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

const resultColumns = `id, subtask_id, workflow_id, batch_id, agent_id, content, generated_at,
	token_usage, confidence, status, errors, warnings, execution_order, attempt, checksum`

func (s *PostgresStore) GetBySubtaskID(ctx context.Context, subtaskID string) (*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE subtask_id = $1 ORDER BY attempt DESC LIMIT 1`, subtaskID)
	if err != nil {
		return nil, fmt.Errorf("querying result: %w", err)
	}
	defer rows.Close()

	results, err := s.scanResults(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: subtask %s", ErrResultNotFound, subtaskID)
	}
	return results[0], nil
}

func (s *PostgresStore) GetAllAttemptsBySubtaskID(ctx context.Context, subtaskID string) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE subtask_id = $1 ORDER BY attempt ASC`, subtaskID)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetByBatchID(ctx context.Context, batchID string) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE batch_id = $1 ORDER BY execution_order ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying by batch: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetByWorkflowID(ctx context.Context, workflowID string) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE workflow_id = $1 ORDER BY execution_order ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying by workflow: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetByStatus(ctx context.Context, status model.SubtaskStatus) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE status = $1 ORDER BY execution_order ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("querying by status: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetByAgentID(ctx context.Context, agentID string) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE agent_id = $1 ORDER BY generated_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying by agent: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetByDateRange(ctx context.Context, r DateRange) ([]*model.SubtaskResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM subtask_results
		WHERE generated_at BETWEEN $1 AND $2 ORDER BY generated_at ASC`, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("querying by date range: %w", err)
	}
	defer rows.Close()
	return s.scanResults(rows)
}

func (s *PostgresStore) GetReintegrationData(ctx context.Context, workflowID string) (*ReintegrationData, error) {
	results, err := s.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	subtasks, err := s.loadSubtasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	batches, err := s.loadBatches(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return &ReintegrationData{
		WorkflowID:       workflowID,
		Results:          results,
		Subtasks:         subtasks,
		DependencyLevels: computeDependencyLevels(subtasks),
		Batches:          batches,
		Summary:          computeSummary(results),
	}, nil
}

func (s *PostgresStore) loadSubtasks(ctx context.Context, workflowID string) (map[string]*model.Subtask, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, parent_workflow_id, title, description, type, priority,
		status, dependencies, metadata, COALESCE(assigned_agent_id, ''), created_at
		FROM subtasks WHERE parent_workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying subtasks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.Subtask)
	for rows.Next() {
		var st model.Subtask
		var deps, meta []byte
		if err := rows.Scan(&st.ID, &st.ParentWorkflowID, &st.Title, &st.Description, &st.Type,
			&st.Priority, &st.Status, &deps, &meta, &st.AssignedAgentID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subtask row: %w", err)
		}
		_ = json.Unmarshal(deps, &st.Dependencies)
		_ = json.Unmarshal(meta, &st.Metadata)
		out[st.ID] = &st
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadBatches(ctx context.Context, workflowID string) ([]BatchMetadata, error) {
	rows, err := s.pool.Query(ctx, `SELECT batch_id, batch_index, subtask_ids, started_at
		FROM batch_metadata WHERE workflow_id = $1 ORDER BY batch_index ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var out []BatchMetadata
	for rows.Next() {
		var m BatchMetadata
		var ids []byte
		if err := rows.Scan(&m.BatchID, &m.BatchIndex, &ids, &m.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning batch row: %w", err)
		}
		_ = json.Unmarshal(ids, &m.SubtaskIDs)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ValidateIntegrity(ctx context.Context, workflowID string) error {
	results, err := s.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.VerifyChecksum() {
			return fmt.Errorf("%w: result %s checksum mismatch", ErrIntegrityViolation, r.ID)
		}
	}

	subtasks, err := s.loadSubtasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for id, st := range subtasks {
		for _, dep := range st.Dependencies {
			if _, ok := subtasks[dep.TargetID]; !ok {
				return fmt.Errorf("%w: subtask %s references missing dependency %s", ErrIntegrityViolation, id, dep.TargetID)
			}
		}
	}
	return nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM subtask_results WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("deleting results: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM batch_metadata WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("deleting batch metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM subtasks WHERE parent_workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("deleting subtasks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

var _ ResultStore = (*PostgresStore)(nil)
var _ ResultStore = (*MemoryStore)(nil)
