package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/guestlab/nbo/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	CreateRun(ctx context.Context, in RunInput) (models.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (models.Run, error)
	ClaimNextRun(ctx context.Context) (models.Run, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string) (models.Run, error)
	FinishRun(ctx context.Context, in RunFinish) (models.Run, error)
	RecordStageResult(ctx context.Context, res models.StageResult) error
	ListStageResults(ctx context.Context, runID uuid.UUID) ([]models.StageResult, error)
	SaveManifest(ctx context.Context, runID uuid.UUID, m models.Manifest) error
	GetManifest(ctx context.Context, runID uuid.UUID) (models.Manifest, error)
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type RunInput struct {
	ID           uuid.UUID
	Stages       []string
	InputDir     string
	OutputDir    string
	DecisionDate time.Time
	ModelVersion string
	Status       string
}

type RunFinish struct {
	ID            uuid.UUID
	Status        string
	NoOfferGuests int
	FinishedAt    time.Time
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (models.Run, error) {
	var (
		run        models.Run
		stages     pq.StringArray
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.Status,
		&stages,
		&run.InputDir,
		&run.OutputDir,
		&run.DecisionDate,
		&run.ModelVersion,
		&run.NoOfferGuests,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return models.Run{}, err
	}
	run.Stages = append([]string(nil), stages...)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func scanStageResult(row rowScanner) (models.StageResult, error) {
	var (
		res        models.StageResult
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		outputs    pq.StringArray
		errMsg     sql.NullString
	)
	if err := row.Scan(
		&res.RunID,
		&res.Name,
		&res.Status,
		&res.Position,
		&startedAt,
		&finishedAt,
		&res.RowsIn,
		&res.RowsOut,
		&outputs,
		&errMsg,
	); err != nil {
		return models.StageResult{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		res.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		res.FinishedAt = &t
	}
	res.Outputs = append([]string(nil), outputs...)
	if errMsg.Valid {
		res.Error = errMsg.String
	}
	return res, nil
}

const runColumns = "id, status, stages, input_dir, output_dir, decision_date, model_version, no_offer_guests, created_at, updated_at, started_at, finished_at"

func (s *PGStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO runs (id, status, stages, input_dir, output_dir, decision_date, model_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + runColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.Status, pq.Array(in.Stages), in.InputDir, in.OutputDir, in.DecisionDate, in.ModelVersion)
	run, err := scanRun(row)
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *PGStore) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id=$1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *PGStore) ClaimNextRun(ctx context.Context) (models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Run{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const selectQueued = `
		SELECT id FROM runs
		WHERE status='queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	var runID uuid.UUID
	if err := tx.QueryRowContext(ctx, selectQueued).Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("select queued run: %w", err)
	}

	claimQuery := `
		UPDATE runs
		SET status='running', started_at=NOW(), updated_at=NOW()
		WHERE id=$1
		RETURNING ` + runColumns
	run, err := scanRun(tx.QueryRowContext(ctx, claimQuery, runID))
	if err != nil {
		return models.Run{}, fmt.Errorf("claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Run{}, fmt.Errorf("commit claim: %w", err)
	}
	return run, nil
}

func (s *PGStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string) (models.Run, error) {
	query := `
		UPDATE runs
		SET status=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("update run status: %w", err)
	}
	return run, nil
}

func (s *PGStore) FinishRun(ctx context.Context, in RunFinish) (models.Run, error) {
	query := `
		UPDATE runs
		SET status=$2, no_offer_guests=$3, finished_at=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query, in.ID, in.Status, in.NoOfferGuests, in.FinishedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("finish run: %w", err)
	}
	return run, nil
}

func (s *PGStore) RecordStageResult(ctx context.Context, res models.StageResult) error {
	const query = `
		INSERT INTO stage_results (run_id, name, status, position, started_at, finished_at, rows_in, rows_out, outputs, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id, name) DO UPDATE
		SET status=EXCLUDED.status,
		    position=EXCLUDED.position,
		    started_at=EXCLUDED.started_at,
		    finished_at=EXCLUDED.finished_at,
		    rows_in=EXCLUDED.rows_in,
		    rows_out=EXCLUDED.rows_out,
		    outputs=EXCLUDED.outputs,
		    error=EXCLUDED.error
	`
	var errMsg *string
	if res.Error != "" {
		errMsg = &res.Error
	}
	if _, err := s.db.ExecContext(ctx, query, res.RunID, res.Name, res.Status, res.Position, res.StartedAt, res.FinishedAt, res.RowsIn, res.RowsOut, pq.Array(res.Outputs), errMsg); err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

func (s *PGStore) ListStageResults(ctx context.Context, runID uuid.UUID) ([]models.StageResult, error) {
	const query = `
		SELECT run_id, name, status, position, started_at, finished_at, rows_in, rows_out, outputs, error
		FROM stage_results
		WHERE run_id=$1
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var results []models.StageResult
	for rows.Next() {
		res, err := scanStageResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage results: %w", err)
	}
	return results, nil
}

func (s *PGStore) SaveManifest(ctx context.Context, runID uuid.UUID, m models.Manifest) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	const query = `
		INSERT INTO run_manifests (run_id, document)
		VALUES ($1,$2)
		ON CONFLICT (run_id) DO UPDATE SET document=EXCLUDED.document
	`
	if _, err := s.db.ExecContext(ctx, query, runID, doc); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

func (s *PGStore) GetManifest(ctx context.Context, runID uuid.UUID) (models.Manifest, error) {
	const query = `SELECT document FROM run_manifests WHERE run_id=$1`
	var doc []byte
	if err := s.db.QueryRowContext(ctx, query, runID).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Manifest{}, ErrNotFound
		}
		return models.Manifest{}, fmt.Errorf("get manifest: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return models.Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
