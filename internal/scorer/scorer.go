// package scorer is the interface to the external response-probability model.
// The pipeline treats it as a pure function of (candidates, model version):
// identical inputs must yield identical outputs.
package scorer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
)

// Candidate is one scoring request row: a guest-offer pair joined with the
// guest's feature vector.
type Candidate struct {
	GuestID     string             `json:"guestId"`
	PromotionID string             `json:"promotionId"`
	Features    map[string]float64 `json:"features"`
}

// Request is the payload sent to the scorer.
type Request struct {
	ModelVersion string      `json:"modelVersion"`
	Candidates   []Candidate `json:"candidates"`
}

// Score is the per-candidate result. Both probabilities are in [0,1].
type Score struct {
	GuestID     string  `json:"guestId"`
	PromotionID string  `json:"promotionId"`
	PTreat      float64 `json:"pTreat"`
	PCtrl       float64 `json:"pCtrl"`
}

// Client scores candidate pairs. Rows the scorer cannot score are simply not
// returned; the caller excludes and logs them, never defaults them.
type Client interface {
	Score(ctx context.Context, req Request) ([]Score, error)
}

// StaticClient is a deterministic in-process scorer for development and tests.
// Scores are a pure function of guest, promotion, features, and model version.
type StaticClient struct {
	Seed int64
}

// NewStaticClient returns a StaticClient with the given seed.
func NewStaticClient(seed int64) *StaticClient {
	return &StaticClient{Seed: seed}
}

// Score produces stable pseudo-probabilities. Candidates with an empty feature
// vector are unscorable and omitted from the result.
func (c *StaticClient) Score(ctx context.Context, req Request) ([]Score, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	scores := make([]Score, 0, len(req.Candidates))
	for _, cand := range req.Candidates {
		if len(cand.Features) == 0 {
			continue
		}
		pt := c.prob(cand, req.ModelVersion, "treat")
		pc := c.prob(cand, req.ModelVersion, "ctrl") * pt
		scores = append(scores, Score{
			GuestID:     cand.GuestID,
			PromotionID: cand.PromotionID,
			PTreat:      pt,
			PCtrl:       pc,
		})
	}
	return scores, nil
}

func (c *StaticClient) prob(cand Candidate, modelVersion, arm string) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s", c.Seed, modelVersion, arm, cand.GuestID, cand.PromotionID)
	names := make([]string, 0, len(cand.Features))
	for name := range cand.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%g", name, cand.Features[name])
	}
	u := float64(h.Sum64()%100000) / 100000.0
	// Keep probabilities away from the extremes so downstream margins stay finite.
	return math.Round((0.05+0.9*u)*1e6) / 1e6
}

// ValidateScores rejects malformed scorer responses (probabilities outside
// [0,1] or rows for unknown candidates).
func ValidateScores(scores []Score, requested []Candidate) error {
	known := make(map[string]bool, len(requested))
	for _, c := range requested {
		known[c.GuestID+"\x00"+c.PromotionID] = true
	}
	for _, s := range scores {
		if s.PTreat < 0 || s.PTreat > 1 || s.PCtrl < 0 || s.PCtrl > 1 {
			return fmt.Errorf("scorer returned probability outside [0,1] for guest %s promotion %s", s.GuestID, s.PromotionID)
		}
		if !known[s.GuestID+"\x00"+s.PromotionID] {
			return fmt.Errorf("scorer returned score for unknown candidate guest %s promotion %s", s.GuestID, s.PromotionID)
		}
	}
	return nil
}
