package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guestlab/nbo/internal/candidate"
	"github.com/guestlab/nbo/internal/catalog"
	"github.com/guestlab/nbo/internal/guardrail"
	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/scoring"
	"github.com/guestlab/nbo/internal/table"
	"github.com/guestlab/nbo/internal/view"
)

// Stage names.
const (
	StageNormalizeCatalog   = "normalize_catalog"
	StageGenerateCandidates = "generate_candidates"
	StageScoreCandidates    = "score_candidates"
	StageSelectWinners      = "select_winners"
	StageBuildMarketingView = "build_marketing_view"
)

// Pipeline artifacts. Raw inputs live in the input dir; everything else is
// materialized into the run's output dir.
const (
	ArtifactOfferMaster   = "offer_master.csv"
	ArtifactFeatureMart   = "feature_mart.csv"
	ArtifactTouchHistory  = "touch_history.csv"
	ArtifactOfferCatalog  = "offer_catalog.csv"
	ArtifactCandidates    = "candidates.csv"
	ArtifactScoredCands   = "scored_candidates.csv"
	ArtifactDecisions     = "decisions.csv"
	ArtifactMarketingView = "marketing_view.csv"
	ArtifactRowDrops      = "row_drops.csv"
	ArtifactManifest      = "manifest.json"
)

// rawTables marks the artifacts that come from the warehouse extract and are
// subject to schema preflight.
var rawTables = map[string]bool{
	ArtifactOfferMaster:  true,
	ArtifactFeatureMart:  true,
	ArtifactTouchHistory: true,
}

// optionalInputs may be absent without failing the dependency pre-check.
// A missing touch history simply means no fatigue suppression.
var optionalInputs = map[string]bool{
	ArtifactTouchHistory: true,
}

func trimCSV(name string) string {
	return strings.TrimSuffix(name, ".csv")
}

// Default builds the standard five-stage decision graph.
func Default() (*Pipeline, error) {
	return New(
		Stage{
			Name:    StageNormalizeCatalog,
			Inputs:  []string{ArtifactOfferMaster},
			Outputs: []string{ArtifactOfferCatalog},
			Run:     runNormalizeCatalog,
		},
		Stage{
			Name:      StageGenerateCandidates,
			Inputs:    []string{ArtifactOfferCatalog, ArtifactFeatureMart, ArtifactTouchHistory},
			Outputs:   []string{ArtifactCandidates},
			DependsOn: []string{StageNormalizeCatalog},
			Run:       runGenerateCandidates,
		},
		Stage{
			Name:      StageScoreCandidates,
			Inputs:    []string{ArtifactCandidates, ArtifactFeatureMart, ArtifactOfferCatalog},
			Outputs:   []string{ArtifactScoredCands},
			DependsOn: []string{StageGenerateCandidates},
			Run:       runScoreCandidates,
		},
		Stage{
			Name:      StageSelectWinners,
			Inputs:    []string{ArtifactScoredCands, ArtifactOfferCatalog, ArtifactFeatureMart},
			Outputs:   []string{ArtifactDecisions},
			DependsOn: []string{StageScoreCandidates},
			Run:       runSelectWinners,
		},
		Stage{
			Name:      StageBuildMarketingView,
			Inputs:    []string{ArtifactDecisions, ArtifactOfferCatalog},
			Outputs:   []string{ArtifactMarketingView},
			DependsOn: []string{StageSelectWinners},
			Run:       runBuildMarketingView,
		},
	)
}

func runNormalizeCatalog(ctx context.Context, env *Env) (Stats, error) {
	path, err := env.Resolve(ArtifactOfferMaster)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", ArtifactOfferMaster, err)
	}
	_, rows, err := table.Read(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", ArtifactOfferMaster, err)
	}
	res, err := catalog.Normalize(rows, env.Policy)
	env.RecordDrops(res.Drops...)
	if err != nil {
		return Stats{RowsIn: len(rows)}, err
	}
	if err := catalog.Write(env.OutputPath(ArtifactOfferCatalog), res.Offers); err != nil {
		return Stats{RowsIn: len(rows)}, err
	}
	return Stats{RowsIn: len(rows), RowsOut: len(res.Offers)}, nil
}

func runGenerateCandidates(ctx context.Context, env *Env) (Stats, error) {
	offers, err := loadCatalog(env)
	if err != nil {
		return Stats{}, err
	}
	guests, err := loadGuests(env)
	if err != nil {
		return Stats{}, err
	}
	var touches []models.Touch
	if path, err := env.Resolve(ArtifactTouchHistory); err == nil {
		touches, err = candidate.LoadTouches(path)
		if err != nil {
			return Stats{}, fmt.Errorf("read %s: %w", ArtifactTouchHistory, err)
		}
	}
	res := candidate.Generate(offers, guests, touches, env.DecisionDate, env.Policy.FatigueWindow())
	for _, d := range res.Duplicates {
		env.logf("qa: duplicate candidate guest=%s promotion=%s count=%d", d.GuestID, d.PromotionID, d.Count)
	}
	if res.FatigueHits > 0 {
		env.logf("fatigue window suppressed %d pairs", res.FatigueHits)
	}
	if err := candidate.Write(env.OutputPath(ArtifactCandidates), res.Candidates); err != nil {
		return Stats{RowsIn: len(guests)}, err
	}
	return Stats{RowsIn: len(guests), RowsOut: len(res.Candidates)}, nil
}

func runScoreCandidates(ctx context.Context, env *Env) (Stats, error) {
	path, err := env.Resolve(ArtifactCandidates)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", ArtifactCandidates, err)
	}
	cands, err := candidate.Load(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", ArtifactCandidates, err)
	}
	if err := scoring.CheckUnique(cands); err != nil {
		return Stats{RowsIn: len(cands)}, err
	}
	guests, err := loadGuests(env)
	if err != nil {
		return Stats{RowsIn: len(cands)}, err
	}
	offers, err := loadCatalog(env)
	if err != nil {
		return Stats{RowsIn: len(cands)}, err
	}
	guestIdx := scoring.GuestIndex(guests)

	req := scoring.BuildRequest(cands, guestIdx, env.Policy.ModelVersion)
	scoreCtx := ctx
	if env.ScorerTimeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, env.ScorerTimeout)
		defer cancel()
	}
	scores, err := env.Scorer.Score(scoreCtx, req)
	if err != nil {
		return Stats{RowsIn: len(cands)}, fmt.Errorf("scorer: %w", err)
	}
	if err := scorer.ValidateScores(scores, req.Candidates); err != nil {
		return Stats{RowsIn: len(cands)}, fmt.Errorf("scorer: %w", err)
	}

	res := scoring.Expand(cands, scores, guestIdx, catalog.Index(offers), env.Policy)
	env.RecordDrops(res.Drops...)
	if err := scoring.Write(env.OutputPath(ArtifactScoredCands), res.Scored); err != nil {
		return Stats{RowsIn: len(cands)}, err
	}
	return Stats{RowsIn: len(cands), RowsOut: len(res.Scored)}, nil
}

func runSelectWinners(ctx context.Context, env *Env) (Stats, error) {
	path, err := env.Resolve(ArtifactScoredCands)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", ArtifactScoredCands, err)
	}
	scored, err := scoring.Load(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", ArtifactScoredCands, err)
	}
	offers, err := loadCatalog(env)
	if err != nil {
		return Stats{RowsIn: len(scored)}, err
	}
	out := guardrail.Select(scored, catalog.Index(offers), env.Policy, env.Stamp)
	env.RecordDrops(out.Drops...)
	if out.NoOfferGuests > 0 {
		env.logf("guardrails eliminated every candidate for %d scored guests", out.NoOfferGuests)
	}

	// The no-offer metric covers every guest in the feature mart, including
	// guests whose offers were all suppressed before scoring.
	guests, err := loadGuests(env)
	if err != nil {
		return Stats{RowsIn: len(scored)}, err
	}
	decided := map[string]bool{}
	for _, d := range out.Decisions {
		decided[d.GuestID] = true
	}
	noOffer := 0
	for _, g := range guests {
		if !decided[g.GuestID] {
			noOffer++
		}
	}
	env.SetNoOfferGuests(noOffer)

	if err := guardrail.Write(env.OutputPath(ArtifactDecisions), out.Decisions); err != nil {
		return Stats{RowsIn: len(scored)}, err
	}
	return Stats{RowsIn: len(scored), RowsOut: len(out.Decisions)}, nil
}

func runBuildMarketingView(ctx context.Context, env *Env) (Stats, error) {
	path, err := env.Resolve(ArtifactDecisions)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", ArtifactDecisions, err)
	}
	decisions, err := guardrail.Load(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", ArtifactDecisions, err)
	}
	offers, err := loadCatalog(env)
	if err != nil {
		return Stats{RowsIn: len(decisions)}, err
	}
	rows := view.Build(decisions, catalog.Index(offers))
	if err := view.Write(env.OutputPath(ArtifactMarketingView), rows); err != nil {
		return Stats{RowsIn: len(decisions)}, err
	}
	return Stats{RowsIn: len(decisions), RowsOut: len(rows)}, nil
}

func loadCatalog(env *Env) ([]models.Offer, error) {
	path, err := env.Resolve(ArtifactOfferCatalog)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ArtifactOfferCatalog, err)
	}
	offers, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ArtifactOfferCatalog, err)
	}
	return offers, nil
}

func loadGuests(env *Env) ([]models.Guest, error) {
	path, err := env.Resolve(ArtifactFeatureMart)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ArtifactFeatureMart, err)
	}
	guests, err := candidate.LoadGuests(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ArtifactFeatureMart, err)
	}
	return guests, nil
}

func buildManifest(env *Env, status string, results []models.StageResult) models.Manifest {
	m := models.Manifest{
		RunID:         env.Stamp.RunID,
		Status:        status,
		DecisionDate:  env.DecisionDate,
		ModelVersion:  env.Stamp.ModelVersion,
		BuildVersion:  env.Stamp.BuildVersion,
		SnapshotID:    env.Stamp.SnapshotID,
		CreatedAt:     time.Now().UTC(),
		NoOfferGuests: env.noOfferGuests,
		RowDrops:      len(env.drops),
	}
	if len(env.drops) > 0 {
		m.DropsByTable = map[string]int{}
		for _, d := range env.drops {
			m.DropsByTable[d.Table]++
		}
	}
	for _, r := range results {
		m.Stages = append(m.Stages, models.ManifestStage{
			Name:       r.Name,
			Status:     r.Status,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			RowsIn:     r.RowsIn,
			RowsOut:    r.RowsOut,
			Outputs:    r.Outputs,
			Error:      r.Error,
		})
	}
	return m
}

// writeManifest materializes the manifest with the same temp-then-rename
// discipline as the CSV artifacts.
func writeManifest(path string, m models.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeDropLog(path string, drops []models.RowDrop) error {
	rows := make([][]string, 0, len(drops))
	for _, d := range drops {
		rows = append(rows, []string{d.Table, d.Key, d.Reason, d.Detail})
	}
	return table.Write(path, []string{"table", "key", "reason", "detail"}, rows)
}
