package acceptance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/guestlab/nbo/internal/guardrail"
	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/pipeline"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/runner"
	"github.com/guestlab/nbo/internal/schema"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/service"
	"github.com/guestlab/nbo/internal/store"
)

// fixedScorer returns the same treatment and control probabilities for every
// candidate. It keeps expected uplift exact in assertions.
type fixedScorer struct {
	pTreat float64
	pCtrl  float64
}

func (f fixedScorer) Score(ctx context.Context, req scorer.Request) ([]scorer.Score, error) {
	scores := make([]scorer.Score, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		scores = append(scores, scorer.Score{
			GuestID:     c.GuestID,
			PromotionID: c.PromotionID,
			PTreat:      f.pTreat,
			PCtrl:       f.pCtrl,
		})
	}
	return scores, nil
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newService(t *testing.T, st store.Store, sc scorer.Client) *service.Service {
	t.Helper()
	pipe, err := pipeline.Default()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return service.New(service.Config{
		Store:    st,
		Pipeline: pipe,
		Scorer:   sc,
		Policy:   policy.Default(),
		Schema:   schema.Default(),
	})
}

const singleOfferMaster = "promotion_id,promotion_name,product_category,base_price,start_date,end_date,legal_flag,channel_eligibility\n" +
	"1,Iced Latte,Beverage,4.50,2025-08-01,2025-09-01,true,\"[\"\"app\"\"]\"\n"

const singleGuestMart = "guest_id,asof_date,aov_28d\n" +
	"g1,2025-08-22,12.00\n"

func TestSingleOfferProducesOneDecision(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	svc := newService(t, memStore, fixedScorer{pTreat: 0.6, pCtrl: 0.2})

	inputDir := t.TempDir()
	writeFixture(t, inputDir, "offer_master.csv", singleOfferMaster)
	writeFixture(t, inputDir, "feature_mart.csv", singleGuestMart)

	run, err := svc.CreateRun(ctx, service.RunRequest{
		InputDir:     inputDir,
		DecisionDate: "2025-08-22",
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	processed, err := runner.ProcessNextRun(ctx, svc, memStore)
	if err != nil {
		t.Fatalf("process run: %v", err)
	}
	if !processed {
		t.Fatalf("expected queued run to be processed")
	}

	got, err := svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", got.Status)
	}
	if len(got.StageResults) != 5 {
		t.Fatalf("expected 5 stage results, got %d", len(got.StageResults))
	}
	for _, res := range got.StageResults {
		if res.Status != models.StageStatusSucceeded {
			t.Fatalf("stage %s: expected succeeded, got %s (%s)", res.Name, res.Status, res.Error)
		}
	}

	decisions, err := guardrail.Load(filepath.Join(got.OutputDir, pipeline.ArtifactDecisions))
	if err != nil {
		t.Fatalf("load decisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected exactly one decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.GuestID != "g1" || d.PromotionID != "1" {
		t.Fatalf("unexpected decision %s/%s", d.GuestID, d.PromotionID)
	}
	if diff := d.Uplift - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected uplift 0.4, got %v", d.Uplift)
	}
	if d.RunID != run.ID.String() || d.SnapshotID != "2025_08_22" {
		t.Fatalf("decision missing provenance: runId=%s snapshotId=%s", d.RunID, d.SnapshotID)
	}

	manifest, err := svc.GetManifest(ctx, run.ID)
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if manifest.Status != models.RunStatusCompleted {
		t.Fatalf("manifest status should be completed, got %s", manifest.Status)
	}
}

func TestRecentTouchSuppressesGuest(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	svc := newService(t, memStore, fixedScorer{pTreat: 0.6, pCtrl: 0.2})

	inputDir := t.TempDir()
	writeFixture(t, inputDir, "offer_master.csv", singleOfferMaster)
	writeFixture(t, inputDir, "feature_mart.csv", singleGuestMart)
	// Ten hours before the as-of instant, well inside the fatigue window.
	writeFixture(t, inputDir, "touch_history.csv",
		"guest_id,promotion_id,touch_ts,channel\n"+
			"g1,1,2025-08-21T14:00:00Z,email\n")

	run, err := svc.CreateRun(ctx, service.RunRequest{
		InputDir:     inputDir,
		DecisionDate: "2025-08-22",
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := runner.ProcessNextRun(ctx, svc, memStore); err != nil {
		t.Fatalf("process run: %v", err)
	}

	got, err := svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", got.Status)
	}

	decisions, err := guardrail.Load(filepath.Join(got.OutputDir, pipeline.ArtifactDecisions))
	if err != nil {
		t.Fatalf("load decisions: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("expected zero decisions for the fatigued guest, got %d", len(decisions))
	}

	// The guest lost every offer before scoring and still counts as no-offer.
	if got.NoOfferGuests != 1 {
		t.Fatalf("expected no-offer guest count 1, got %d", got.NoOfferGuests)
	}
	manifest, err := svc.GetManifest(ctx, run.ID)
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if manifest.NoOfferGuests != 1 {
		t.Fatalf("manifest no-offer count should be 1, got %d", manifest.NoOfferGuests)
	}
}

func TestSubsetRunRequiresUpstreamArtifacts(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	svc := newService(t, memStore, fixedScorer{pTreat: 0.6, pCtrl: 0.2})

	inputDir := t.TempDir()
	writeFixture(t, inputDir, "offer_master.csv", singleOfferMaster)
	writeFixture(t, inputDir, "feature_mart.csv", singleGuestMart)

	run, err := svc.CreateRun(ctx, service.RunRequest{
		InputDir:     inputDir,
		DecisionDate: "2025-08-22",
		Stages:       []string{"select_winners"},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	// The claim succeeds but execution fails before any stage runs.
	processed, err := runner.ProcessNextRun(ctx, svc, memStore)
	if !processed {
		t.Fatalf("run should have been claimed")
	}
	if err == nil {
		t.Fatalf("expected missing-dependency failure")
	}

	got, err := svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", got.Status)
	}
}

func TestCreateRunValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore(), fixedScorer{pTreat: 0.6, pCtrl: 0.2})

	if _, err := svc.CreateRun(ctx, service.RunRequest{}); err == nil {
		t.Fatalf("expected inputDir error")
	}
	if _, err := svc.CreateRun(ctx, service.RunRequest{
		InputDir: t.TempDir(),
		Stages:   []string{"massage_numbers"},
	}); err == nil {
		t.Fatalf("expected unknown-stage error")
	}
	if _, err := svc.CreateRun(ctx, service.RunRequest{
		InputDir:     t.TempDir(),
		DecisionDate: "22-08-2025",
	}); err == nil {
		t.Fatalf("expected decision-date format error")
	}
}
