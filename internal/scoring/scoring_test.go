package scoring_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/scoring"
)

var decisionDate = time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)

func beverageOffer(id string, price float64) models.Offer {
	return models.Offer{
		PromotionID:          id,
		PromotionName:        "Promo " + id,
		ProductCategory:      "Beverage",
		BasePrice:            price,
		LegalFlag:            true,
		MarginBasisPct:       0.42,
		MaxDiscountPct:       10,
		AllowedDiscountBands: []int{0, 5, 10},
	}
}

func TestExpandComputesEIMPerBand(t *testing.T) {
	pol := policy.Default()
	offers := map[string]models.Offer{"1": beverageOffer("1", 4.50)}
	guests := map[string]models.Guest{"g1": {GuestID: "g1", Features: map[string]float64{"aov_28d": 12.0}}}
	cands := []models.Candidate{{GuestID: "g1", PromotionID: "1", DecisionTime: decisionDate}}
	scores := []scorer.Score{{GuestID: "g1", PromotionID: "1", PTreat: 0.6, PCtrl: 0.2}}

	res := scoring.Expand(cands, scores, guests, offers, pol)
	if len(res.Scored) != 3 {
		t.Fatalf("expected 3 band rows, got %d", len(res.Scored))
	}
	// eim = uplift * ticket * margin - discount_cost - penalty
	// band 0:  0.4 * 12 * 0.42 - 0         = 2.016
	// band 5:  2.016 - 4.50*0.05           = 1.791
	// band 10: 2.016 - 4.50*0.10           = 1.566
	want := []float64{2.016, 1.791, 1.566}
	for i, s := range res.Scored {
		if math.Abs(s.EIMRaw-want[i]) > 1e-9 {
			t.Fatalf("band %d: expected eim %g, got %g", s.DiscountBand, want[i], s.EIMRaw)
		}
		if math.Abs(s.Uplift-0.4) > 1e-12 {
			t.Fatalf("expected uplift 0.4, got %g", s.Uplift)
		}
	}
}

func TestExpandSkipsBandsOverCap(t *testing.T) {
	pol := policy.Default()
	offer := beverageOffer("1", 4.50)
	offer.AllowedDiscountBands = []int{0, 5, 10, 15}
	offers := map[string]models.Offer{"1": offer}
	guests := map[string]models.Guest{"g1": {GuestID: "g1", Features: map[string]float64{"aov_28d": 12.0}}}
	cands := []models.Candidate{{GuestID: "g1", PromotionID: "1", DecisionTime: decisionDate}}
	scores := []scorer.Score{{GuestID: "g1", PromotionID: "1", PTreat: 0.6, PCtrl: 0.2}}

	res := scoring.Expand(cands, scores, guests, offers, pol)
	for _, s := range res.Scored {
		if s.DiscountBand > offer.MaxDiscountPct {
			t.Fatalf("band %d exceeds the cap %d", s.DiscountBand, offer.MaxDiscountPct)
		}
	}
	if len(res.Scored) != 3 {
		t.Fatalf("expected bands 0/5/10 only, got %d rows", len(res.Scored))
	}
}

func TestExpandDropsUnscoredCandidates(t *testing.T) {
	pol := policy.Default()
	offers := map[string]models.Offer{"1": beverageOffer("1", 4.50)}
	guests := map[string]models.Guest{
		"g1": {GuestID: "g1", Features: map[string]float64{"aov_28d": 12.0}},
		"g2": {GuestID: "g2", Features: map[string]float64{"aov_28d": 9.0}},
	}
	cands := []models.Candidate{
		{GuestID: "g1", PromotionID: "1", DecisionTime: decisionDate},
		{GuestID: "g2", PromotionID: "1", DecisionTime: decisionDate},
	}
	scores := []scorer.Score{{GuestID: "g1", PromotionID: "1", PTreat: 0.6, PCtrl: 0.2}}

	res := scoring.Expand(cands, scores, guests, offers, pol)
	for _, s := range res.Scored {
		if s.GuestID == "g2" {
			t.Fatalf("unscored candidate must not receive a default score")
		}
	}
	if len(res.Drops) != 1 || res.Drops[0].Reason != scoring.DropUnscorable {
		t.Fatalf("expected one unscorable drop, got %v", res.Drops)
	}
}

func TestExpectedTicketPreference(t *testing.T) {
	pol := policy.Default()
	offers := map[string]models.Offer{"1": beverageOffer("1", 4.50)}
	cases := []struct {
		name     string
		features map[string]float64
		want     float64
	}{
		{"prefers aov_28d", map[string]float64{"aov_28d": 12, "aov_90d": 20, "aov_365d": 30}, 12},
		{"falls back to aov_90d", map[string]float64{"aov_90d": 20, "aov_365d": 30}, 20},
		{"falls back to aov_365d", map[string]float64{"aov_365d": 30}, 30},
		{"floors missing history", map[string]float64{"visits_90d": 3}, 5},
		{"floors tiny values", map[string]float64{"aov_28d": 0.75}, 5},
		{"skips non-positive", map[string]float64{"aov_28d": 0, "aov_90d": 18}, 18},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			guests := map[string]models.Guest{"g1": {GuestID: "g1", Features: tc.features}}
			cands := []models.Candidate{{GuestID: "g1", PromotionID: "1", DecisionTime: decisionDate}}
			scores := []scorer.Score{{GuestID: "g1", PromotionID: "1", PTreat: 0.6, PCtrl: 0.2}}
			res := scoring.Expand(cands, scores, guests, offers, pol)
			if len(res.Scored) == 0 {
				t.Fatalf("expected scored rows")
			}
			if got := res.Scored[0].ExpectedTicket; got != tc.want {
				t.Fatalf("expected ticket %g, got %g", tc.want, got)
			}
		})
	}
}

func TestCheckUniqueRejectsDuplicates(t *testing.T) {
	cands := []models.Candidate{
		{GuestID: "g1", PromotionID: "1"},
		{GuestID: "g1", PromotionID: "1"},
	}
	err := scoring.CheckUnique(cands)
	if err == nil || !strings.Contains(err.Error(), "duplicate candidate key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if err := scoring.CheckUnique(cands[:1]); err != nil {
		t.Fatalf("unique candidates should pass: %v", err)
	}
}

func TestScoredCandidateRoundTrip(t *testing.T) {
	pol := policy.Default()
	offers := map[string]models.Offer{"1": beverageOffer("1", 4.50)}
	guests := map[string]models.Guest{"g1": {GuestID: "g1", Features: map[string]float64{"aov_28d": 12.0}}}
	cands := []models.Candidate{{GuestID: "g1", PromotionID: "1", DecisionTime: decisionDate}}
	scores := []scorer.Score{{GuestID: "g1", PromotionID: "1", PTreat: 0.6, PCtrl: 0.2}}
	res := scoring.Expand(cands, scores, guests, offers, pol)

	path := t.TempDir() + "/scored_candidates.csv"
	if err := scoring.Write(path, res.Scored); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := scoring.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(res.Scored) {
		t.Fatalf("expected %d rows, got %d", len(res.Scored), len(loaded))
	}
	for i := range loaded {
		if loaded[i].EIMRaw != res.Scored[i].EIMRaw || loaded[i].DiscountBand != res.Scored[i].DiscountBand {
			t.Fatalf("row %d mismatch: %+v vs %+v", i, loaded[i], res.Scored[i])
		}
	}
}
