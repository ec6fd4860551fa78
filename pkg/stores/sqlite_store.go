package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/histmatch/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to ":memory:" is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CreateExperiment registers an experiment and returns its ID
func (s *SQLiteStore) CreateExperiment(ctx context.Context, name string, config json.RawMessage) (string, error) {
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	id := uuid.New().String()

	query := `INSERT INTO experiments (id, name, config, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, name, string(config), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to create experiment: %w", err)
	}
	return id, nil
}

// GetExperiment retrieves an experiment by ID
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	query := `SELECT id, name, config, created_at FROM experiments WHERE id = ?`
	return s.scanExperiment(s.db.QueryRowContext(ctx, query, id), id)
}

// GetExperimentByName retrieves the most recent experiment with a name
func (s *SQLiteStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	query := `
		SELECT id, name, config, created_at
		FROM experiments
		WHERE name = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	return s.scanExperiment(s.db.QueryRowContext(ctx, query, name), name)
}

func (s *SQLiteStore) scanExperiment(row *sql.Row, ref string) (*Experiment, error) {
	exp := &Experiment{}
	err := row.Scan(&exp.ID, &exp.Name, &exp.Config, &exp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("experiment", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

// ListExperiments lists experiments in creation order
func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, config, created_at FROM experiments ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	experiments := []*Experiment{}
	for rows.Next() {
		exp := &Experiment{}
		if err := rows.Scan(&exp.ID, &exp.Name, &exp.Config, &exp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiments: %w", err)
	}
	return experiments, nil
}

// CreateEnsemble creates an ensemble with every realization UNDEFINED
func (s *SQLiteStore) CreateEnsemble(
	ctx context.Context,
	experimentID, name string,
	size, iteration int,
	prior engine.EnsembleStore,
) (engine.EnsembleStore, error) {
	if size <= 0 {
		return nil, engine.NewPermanentError(fmt.Sprintf("invalid ensemble size %d", size), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(name)
	}

	meta := &engine.Ensemble{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Name:         name,
		Size:         size,
		Iteration:    iteration,
		CreatedAt:    time.Now().UTC(),
	}
	var priorID *string
	if prior != nil {
		meta.PriorID = prior.Ensemble().ID
		priorID = &meta.PriorID
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO ensembles (id, experiment_id, name, size, iteration, prior_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		meta.ID, meta.ExperimentID, meta.Name, meta.Size, meta.Iteration, priorID, meta.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create ensemble %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO realization_states (ensemble_id, realization, state, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare state insert: %w", err)
	}
	defer stmt.Close()
	for real := 0; real < size; real++ {
		if _, err := stmt.ExecContext(ctx, meta.ID, real, engine.RealizationUndefined, meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to initialize realization %d: %w", real, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ensemble: %w", err)
	}
	return newEnsembleAccessor(s, meta), nil
}

const ensembleColumns = `id, experiment_id, name, size, iteration, prior_id, created_at`

// GetEnsemble opens an existing ensemble by ID
func (s *SQLiteStore) GetEnsemble(ctx context.Context, id string) (engine.EnsembleStore, error) {
	query := `SELECT ` + ensembleColumns + ` FROM ensembles WHERE id = ?`
	meta, err := scanEnsemble(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound("ensemble", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ensemble: %w", err)
	}
	return newEnsembleAccessor(s, meta), nil
}

// GetEnsembleByName opens an existing ensemble of an experiment by name
func (s *SQLiteStore) GetEnsembleByName(ctx context.Context, experimentID, name string) (engine.EnsembleStore, error) {
	query := `SELECT ` + ensembleColumns + ` FROM ensembles WHERE experiment_id = ? AND name = ?`
	meta, err := scanEnsemble(s.db.QueryRowContext(ctx, query, experimentID, name))
	if err == sql.ErrNoRows {
		return nil, notFound("ensemble", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ensemble: %w", err)
	}
	return newEnsembleAccessor(s, meta), nil
}

// ListEnsembles lists the ensembles of an experiment in creation order
func (s *SQLiteStore) ListEnsembles(ctx context.Context, experimentID string) ([]*engine.Ensemble, error) {
	query := `SELECT ` + ensembleColumns + ` FROM ensembles WHERE experiment_id = ? ORDER BY created_at, rowid`
	rows, err := s.db.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ensembles: %w", err)
	}
	defer rows.Close()

	ensembles := []*engine.Ensemble{}
	for rows.Next() {
		meta, err := scanEnsemble(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ensemble: %w", err)
		}
		ensembles = append(ensembles, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ensembles: %w", err)
	}
	return ensembles, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnsemble(row scanner) (*engine.Ensemble, error) {
	meta := &engine.Ensemble{}
	var priorID sql.NullString
	if err := row.Scan(
		&meta.ID,
		&meta.ExperimentID,
		&meta.Name,
		&meta.Size,
		&meta.Iteration,
		&priorID,
		&meta.CreatedAt,
	); err != nil {
		return nil, err
	}
	meta.PriorID = priorID.String
	return meta, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, experiment_id, mode, status, started_at, completed_at, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Metadata == "" {
		run.Metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ExperimentID,
		run.Mode,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, experiment_id, mode, status, started_at, completed_at, error, metadata, created_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.ExperimentID,
		&run.Mode,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
	)
	return run, err
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound("run", id)
	}

	return nil
}

// ListRuns lists runs with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, ensemble, realization, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Ensemble,
		event.Realization,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, ensemble, realization, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Ensemble,
			&event.Realization,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// RecordEvent converts an engine event and appends it to the log.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event engine.Event) error {
	e := &Event{
		Realization: event.Realization,
		Type:        string(event.Type),
		Level:       EventLevel(event.Level),
		Message:     event.Message,
		Timestamp:   event.Timestamp,
	}
	if event.RunID != "" {
		e.RunID = &event.RunID
	}
	if event.Ensemble != "" {
		e.Ensemble = &event.Ensemble
	}
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		details := string(data)
		e.Details = &details
	}
	return s.AppendEvent(ctx, e)
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func notFound(kind, ref string) error {
	return engine.NewPermanentError(fmt.Sprintf("%s not found: %s", kind, ref), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(ref)
}
