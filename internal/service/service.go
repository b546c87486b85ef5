package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/pipeline"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/provenance"
	"github.com/guestlab/nbo/internal/schema"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/store"
)

// Service coordinates run intake and execution: it owns the store, the stage
// graph, and the run-scoped collaborators (scorer, event sink, archiver).
type Service struct {
	store         store.Store
	pipe          *pipeline.Pipeline
	scorer        scorer.Client
	policy        policy.Policy
	desc          *schema.Description
	events        provenance.EventSink
	archiver      provenance.Archiver
	logger        *log.Logger
	scorerTimeout time.Duration
}

type Config struct {
	Store         store.Store
	Pipeline      *pipeline.Pipeline
	Scorer        scorer.Client
	Policy        policy.Policy
	Schema        *schema.Description
	Events        provenance.EventSink
	Archiver      provenance.Archiver
	Logger        *log.Logger
	ScorerTimeout time.Duration
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[nbo] ", log.LstdFlags)
	}
	return &Service{
		store:         cfg.Store,
		pipe:          cfg.Pipeline,
		scorer:        cfg.Scorer,
		policy:        cfg.Policy,
		desc:          cfg.Schema,
		events:        cfg.Events,
		archiver:      cfg.Archiver,
		logger:        logger,
		scorerTimeout: cfg.ScorerTimeout,
	}
}

type RunRequest struct {
	Stages       []string `json:"stages"`
	InputDir     string   `json:"inputDir"`
	OutputDir    string   `json:"outputDir"`
	DecisionDate string   `json:"decisionDate"`
}

// CreateRun validates a run request and queues it for the worker.
func (s *Service) CreateRun(ctx context.Context, req RunRequest) (models.Run, error) {
	if req.InputDir == "" {
		return models.Run{}, fmt.Errorf("inputDir required")
	}
	if err := s.pipe.ValidateStages(req.Stages); err != nil {
		return models.Run{}, err
	}
	decisionDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.DecisionDate != "" {
		var err error
		decisionDate, err = time.Parse("2006-01-02", req.DecisionDate)
		if err != nil {
			return models.Run{}, fmt.Errorf("decisionDate must be YYYY-MM-DD: %w", err)
		}
	}
	id := uuid.New()
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = fmt.Sprintf("%s/runs/%s", req.InputDir, id)
	}
	return s.store.CreateRun(ctx, store.RunInput{
		ID:           id,
		Stages:       req.Stages,
		InputDir:     req.InputDir,
		OutputDir:    outputDir,
		DecisionDate: decisionDate,
		ModelVersion: s.policy.ModelVersion,
		Status:       models.RunStatusQueued,
	})
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return models.Run{}, err
	}
	results, err := s.store.ListStageResults(ctx, id)
	if err != nil {
		return models.Run{}, err
	}
	run.StageResults = results
	return run, nil
}

func (s *Service) GetManifest(ctx context.Context, id uuid.UUID) (models.Manifest, error) {
	return s.store.GetManifest(ctx, id)
}

// ExecuteRun drives one claimed run through the stage graph, persisting stage
// results as they land, then the manifest and terminal run status. Event and
// archive delivery failures are logged, never propagated; they must not affect
// decisioning.
func (s *Service) ExecuteRun(ctx context.Context, run models.Run) (models.Run, error) {
	stamp := provenance.NewStamp(run.ID, run.DecisionDate, s.policy.ModelVersion, s.policy.BuildVersion, time.Now().UTC())
	env := &pipeline.Env{
		InputDir:      run.InputDir,
		OutputDir:     run.OutputDir,
		DecisionDate:  run.DecisionDate,
		Policy:        s.policy,
		Scorer:        s.scorer,
		ScorerTimeout: s.scorerTimeout,
		Stamp:         stamp,
		Logger:        s.logger,
	}

	observer := func(res models.StageResult) {
		res.RunID = run.ID
		if err := s.store.RecordStageResult(ctx, res); err != nil {
			s.logger.Printf("record stage result %s: %v", res.Name, err)
		}
		s.publishStageEvent(ctx, run.ID, res)
	}

	report, err := s.pipe.Execute(ctx, env, s.desc, run.Stages, observer)
	if err != nil {
		// Pre-execution failure: nothing ran, the run fails as a whole.
		if _, ferr := s.store.FinishRun(ctx, store.RunFinish{
			ID:         run.ID,
			Status:     models.RunStatusFailed,
			FinishedAt: time.Now().UTC(),
		}); ferr != nil {
			s.logger.Printf("finish run %s: %v", run.ID, ferr)
		}
		return models.Run{}, err
	}

	if err := s.store.SaveManifest(ctx, run.ID, report.Manifest); err != nil {
		s.logger.Printf("save manifest %s: %v", run.ID, err)
	}
	if s.archiver != nil {
		if loc, err := s.archiver.ArchiveManifest(ctx, report.Manifest); err != nil {
			s.logger.Printf("archive manifest %s: %v", run.ID, err)
		} else {
			s.logger.Printf("archived manifest %s to %s", run.ID, loc)
		}
	}

	finished, err := s.store.FinishRun(ctx, store.RunFinish{
		ID:            run.ID,
		Status:        report.Status,
		NoOfferGuests: report.NoOfferGuests,
		FinishedAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Run{}, err
	}
	finished.StageResults = report.Stages
	return finished, nil
}

func (s *Service) publishStageEvent(ctx context.Context, runID uuid.UUID, res models.StageResult) {
	if s.events == nil {
		return
	}
	ev := provenance.StageEvent{
		EventID: uuid.NewString(),
		RunID:   runID.String(),
		Stage:   res.Name,
		Status:  res.Status,
		RowsIn:  res.RowsIn,
		RowsOut: res.RowsOut,
		Error:   res.Error,
		Ts:      time.Now().UTC(),
	}
	if err := s.events.StageCompleted(ctx, ev); err != nil {
		s.logger.Printf("publish stage event %s/%s: %v", runID, res.Name, err)
	}
}
