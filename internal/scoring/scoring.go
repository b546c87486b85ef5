// package scoring turns scored probabilities into expected-incremental-margin
// rows: one ScoredCandidate per candidate per allowed discount band.
package scoring

import (
	"fmt"
	"sort"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/scorer"
)

// Drop reason for candidates the scorer could not score.
const DropUnscorable = "unscorable"

// ticketColumns lists the average-order-value features consulted for the
// expected ticket, in preference order.
var ticketColumns = []string{"aov_28d", "aov_90d", "aov_365d"}

// minExpectedTicket floors the expected ticket for guests with no usable
// order-value history.
const minExpectedTicket = 5.0

// Result is the scoring stage output.
type Result struct {
	Scored []models.ScoredCandidate
	Drops  []models.RowDrop
}

// BuildRequest joins candidates with their guest feature vectors into a scorer
// request.
func BuildRequest(cands []models.Candidate, guests map[string]models.Guest, modelVersion string) scorer.Request {
	req := scorer.Request{ModelVersion: modelVersion}
	for _, c := range cands {
		req.Candidates = append(req.Candidates, scorer.Candidate{
			GuestID:     c.GuestID,
			PromotionID: c.PromotionID,
			Features:    guests[c.GuestID].Features,
		})
	}
	return req
}

// Expand merges scorer output back onto candidates and explodes each scored
// pair across the offer's allowed discount bands, computing eim_raw per band.
// Candidates without a returned score are dropped with a logged reason, never
// defaulted. Output is stably ordered by (guest_id, promotion_id, band).
func Expand(cands []models.Candidate, scores []scorer.Score, guests map[string]models.Guest, offers map[string]models.Offer, pol policy.Policy) Result {
	byPair := make(map[string]scorer.Score, len(scores))
	for _, s := range scores {
		byPair[s.GuestID+"\x00"+s.PromotionID] = s
	}

	var res Result
	for _, c := range cands {
		s, ok := byPair[c.GuestID+"\x00"+c.PromotionID]
		if !ok {
			res.Drops = append(res.Drops, models.RowDrop{
				Table:  "candidates",
				Key:    c.GuestID + "/" + c.PromotionID,
				Reason: DropUnscorable,
				Detail: "scorer returned no score for this pair",
			})
			continue
		}
		offer, ok := offers[c.PromotionID]
		if !ok {
			res.Drops = append(res.Drops, models.RowDrop{
				Table:  "candidates",
				Key:    c.GuestID + "/" + c.PromotionID,
				Reason: "unknown_promotion",
				Detail: "promotion_id not present in the canonical catalog",
			})
			continue
		}

		uplift := s.PTreat - s.PCtrl
		ticket := expectedTicket(guests[c.GuestID])
		margin := offer.MarginBasisPct
		for _, band := range offer.AllowedDiscountBands {
			if band > offer.MaxDiscountPct {
				continue
			}
			discountCost := offer.BasePrice * float64(band) / 100.0
			eim := uplift*ticket*margin - discountCost - pol.CannibalizationPenalty
			res.Scored = append(res.Scored, models.ScoredCandidate{
				GuestID:                c.GuestID,
				PromotionID:            c.PromotionID,
				PromotionName:          offer.PromotionName,
				ProductCategory:        offer.ProductCategory,
				DecisionTime:           c.DecisionTime,
				PTreat:                 s.PTreat,
				PCtrl:                  s.PCtrl,
				Uplift:                 uplift,
				ExpectedTicket:         ticket,
				MarginPct:              margin,
				DiscountBand:           band,
				DiscountCost:           discountCost,
				CannibalizationPenalty: pol.CannibalizationPenalty,
				EIMRaw:                 eim,
			})
		}
	}

	sort.Slice(res.Scored, func(a, b int) bool {
		x, y := res.Scored[a], res.Scored[b]
		if x.GuestID != y.GuestID {
			return x.GuestID < y.GuestID
		}
		if x.PromotionID != y.PromotionID {
			return x.PromotionID < y.PromotionID
		}
		return x.DiscountBand < y.DiscountBand
	})
	return res
}

// expectedTicket prefers the freshest positive average-order-value feature.
func expectedTicket(g models.Guest) float64 {
	for _, col := range ticketColumns {
		if v, ok := g.Features[col]; ok && v > 0 {
			if v < minExpectedTicket {
				return minExpectedTicket
			}
			return v
		}
	}
	return minExpectedTicket
}

// GuestIndex keys guests by id.
func GuestIndex(guests []models.Guest) map[string]models.Guest {
	idx := make(map[string]models.Guest, len(guests))
	for _, g := range guests {
		idx[g.GuestID] = g
	}
	return idx
}

// CheckUnique verifies the candidate-key uniqueness invariant before scoring.
// A duplicate here is a QA failure, not something to silently drop.
func CheckUnique(cands []models.Candidate) error {
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		key := c.GuestID + "\x00" + c.PromotionID
		if seen[key] {
			return fmt.Errorf("duplicate candidate key guest %s promotion %s", c.GuestID, c.PromotionID)
		}
		seen[key] = true
	}
	return nil
}
