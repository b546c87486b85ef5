package scorer_test

import (
	"context"
	"testing"

	"github.com/guestlab/nbo/internal/scorer"
)

func testRequest() scorer.Request {
	return scorer.Request{
		ModelVersion: "v1.0",
		Candidates: []scorer.Candidate{
			{GuestID: "g1", PromotionID: "1", Features: map[string]float64{"aov_28d": 12.5, "visits_90d": 4}},
			{GuestID: "g1", PromotionID: "2", Features: map[string]float64{"aov_28d": 12.5, "visits_90d": 4}},
			{GuestID: "g2", PromotionID: "1", Features: map[string]float64{"aov_28d": 7.0}},
		},
	}
}

func TestStaticClientIsDeterministic(t *testing.T) {
	ctx := context.Background()
	client := scorer.NewStaticClient(42)

	first, err := client.Score(ctx, testRequest())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	second, err := client.Score(ctx, testRequest())
	if err != nil {
		t.Fatalf("score again: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("score counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("row %d differs between identical calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStaticClientProbabilitiesInRange(t *testing.T) {
	scores, err := scorer.NewStaticClient(7).Score(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for _, s := range scores {
		if s.PTreat < 0 || s.PTreat > 1 || s.PCtrl < 0 || s.PCtrl > 1 {
			t.Fatalf("probability outside [0,1]: %+v", s)
		}
	}
	if err := scorer.ValidateScores(scores, testRequest().Candidates); err != nil {
		t.Fatalf("static output should validate: %v", err)
	}
}

func TestStaticClientOmitsFeaturelessCandidates(t *testing.T) {
	req := scorer.Request{
		ModelVersion: "v1.0",
		Candidates: []scorer.Candidate{
			{GuestID: "g1", PromotionID: "1", Features: map[string]float64{"aov_28d": 12.5}},
			{GuestID: "g2", PromotionID: "1"},
		},
	}
	scores, err := scorer.NewStaticClient(1).Score(context.Background(), req)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(scores) != 1 || scores[0].GuestID != "g1" {
		t.Fatalf("expected only the featured candidate to be scored, got %v", scores)
	}
}

func TestStaticClientVariesWithSeedAndModelVersion(t *testing.T) {
	ctx := context.Background()
	base, _ := scorer.NewStaticClient(1).Score(ctx, testRequest())
	reseeded, _ := scorer.NewStaticClient(2).Score(ctx, testRequest())
	if base[0] == reseeded[0] {
		t.Fatalf("different seeds should score differently")
	}
	req := testRequest()
	req.ModelVersion = "v2.0"
	reversioned, _ := scorer.NewStaticClient(1).Score(ctx, req)
	if base[0] == reversioned[0] {
		t.Fatalf("different model versions should score differently")
	}
}

func TestValidateScoresRejectsBadResponses(t *testing.T) {
	requested := testRequest().Candidates
	if err := scorer.ValidateScores([]scorer.Score{
		{GuestID: "g1", PromotionID: "1", PTreat: 1.2, PCtrl: 0.1},
	}, requested); err == nil {
		t.Fatalf("expected out-of-range probability to be rejected")
	}
	if err := scorer.ValidateScores([]scorer.Score{
		{GuestID: "stranger", PromotionID: "1", PTreat: 0.5, PCtrl: 0.1},
	}, requested); err == nil {
		t.Fatalf("expected unknown candidate to be rejected")
	}
}
