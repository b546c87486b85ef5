package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guestlab/nbo/internal/models"
)

type stageKey struct {
	runID uuid.UUID
	name  string
}

type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]models.Run
	stages    map[stageKey]models.StageResult
	manifests map[uuid.UUID]models.Manifest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      map[uuid.UUID]models.Run{},
		stages:    map[stageKey]models.StageResult{},
		manifests: map[uuid.UUID]models.Manifest{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	run := models.Run{
		ID:           in.ID,
		Status:       in.Status,
		Stages:       append([]string(nil), in.Stages...),
		InputDir:     in.InputDir,
		OutputDir:    in.OutputDir,
		DecisionDate: in.DecisionDate,
		ModelVersion: in.ModelVersion,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryStore) ClaimNextRun(ctx context.Context) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		selectedID uuid.UUID
		selected   models.Run
		found      bool
	)
	for id, run := range m.runs {
		if run.Status != models.RunStatusQueued {
			continue
		}
		if !found || run.CreatedAt.Before(selected.CreatedAt) {
			selectedID = id
			selected = run
			found = true
		}
	}
	if !found {
		return models.Run{}, ErrNotFound
	}
	now := time.Now().UTC()
	selected.Status = models.RunStatusRunning
	selected.StartedAt = &now
	selected.UpdatedAt = now
	m.runs[selectedID] = selected
	return selected, nil
}

func (m *MemoryStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	m.runs[id] = run
	return run, nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, in RunFinish) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[in.ID]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	run.Status = in.Status
	run.NoOfferGuests = in.NoOfferGuests
	t := in.FinishedAt
	run.FinishedAt = &t
	run.UpdatedAt = time.Now().UTC()
	m.runs[in.ID] = run
	return run, nil
}

func (m *MemoryStore) RecordStageResult(ctx context.Context, res models.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.Outputs = append([]string(nil), res.Outputs...)
	m.stages[stageKey{runID: res.RunID, name: res.Name}] = res
	return nil
}

func (m *MemoryStore) ListStageResults(ctx context.Context, runID uuid.UUID) ([]models.StageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []models.StageResult
	for key, res := range m.stages {
		if key.runID == runID {
			results = append(results, res)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Position < results[j].Position
	})
	return results, nil
}

func (m *MemoryStore) SaveManifest(ctx context.Context, runID uuid.UUID, manifest models.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[runID] = manifest
	return nil
}

func (m *MemoryStore) GetManifest(ctx context.Context, runID uuid.UUID) (models.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	manifest, ok := m.manifests[runID]
	if !ok {
		return models.Manifest{}, ErrNotFound
	}
	return manifest, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
