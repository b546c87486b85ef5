// package guardrail applies the hard business constraints to scored candidates
// and selects exactly one winning offer per guest.
package guardrail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/provenance"
)

// Elimination reason codes for the row-drop log.
const (
	DropBelowEIMFloor   = "below_eim_floor"
	DropOverDiscount    = "over_discount_cap"
	DropNotLegal        = "not_legal"
	DropUnknownOffer    = "unknown_promotion"
	DropLosingCandidate = "outranked"
)

// Outcome is the selector output: one decision per guest with at least one
// eligible candidate, plus the elimination log. NoOfferGuests counts guests
// that reached scoring but lost every candidate to the eligibility filter;
// the run-level no-offer metric is derived against the full feature mart.
type Outcome struct {
	Decisions     []models.Decision
	NoOfferGuests int
	Drops         []models.RowDrop
}

// Select runs the three guardrail steps: eligibility filtering, deterministic
// ranking, and single-winner selection. Offers are re-checked against the
// current catalog because it may have been refreshed since scoring.
func Select(scored []models.ScoredCandidate, offers map[string]models.Offer, pol policy.Policy, stamp provenance.Stamp) Outcome {
	var out Outcome

	// Step A: eligibility.
	survivors := map[string][]models.ScoredCandidate{}
	guestsSeen := map[string]bool{}
	for _, s := range scored {
		guestsSeen[s.GuestID] = true
		key := s.GuestID + "/" + s.PromotionID
		offer, ok := offers[s.PromotionID]
		if !ok {
			out.Drops = append(out.Drops, models.RowDrop{Table: "scored_candidates", Key: key, Reason: DropUnknownOffer})
			continue
		}
		if !offer.LegalFlag {
			out.Drops = append(out.Drops, models.RowDrop{Table: "scored_candidates", Key: key, Reason: DropNotLegal})
			continue
		}
		if s.DiscountBand > offer.MaxDiscountPct {
			out.Drops = append(out.Drops, models.RowDrop{
				Table: "scored_candidates", Key: key, Reason: DropOverDiscount,
				Detail: fmt.Sprintf("band %d exceeds cap %d", s.DiscountBand, offer.MaxDiscountPct),
			})
			continue
		}
		rule := pol.Rule(s.ProductCategory)
		if s.EIMRaw < rule.EIMFloor {
			out.Drops = append(out.Drops, models.RowDrop{
				Table: "scored_candidates", Key: key, Reason: DropBelowEIMFloor,
				Detail: fmt.Sprintf("eim_raw %g below floor %g", s.EIMRaw, rule.EIMFloor),
			})
			continue
		}
		survivors[s.GuestID] = append(survivors[s.GuestID], s)
	}

	// Steps B and C per guest, guests in stable order.
	guestIDs := make([]string, 0, len(guestsSeen))
	for id := range guestsSeen {
		guestIDs = append(guestIDs, id)
	}
	sort.Strings(guestIDs)

	for _, guestID := range guestIDs {
		ranked := survivors[guestID]
		if len(ranked) == 0 {
			out.NoOfferGuests++
			continue
		}
		rank(ranked, pol.TieBreak)

		winner := ranked[0]
		decision := models.Decision{
			ScoredCandidate: winner,
			EIMFinal:        winner.EIMRaw,
			WhySelected:     rationale(winner, pol, len(ranked)),
			RunID:           stamp.RunID,
			SnapshotID:      stamp.SnapshotID,
			DecidedAt:       stamp.DecidedAt,
			ModelVersion:    stamp.ModelVersion,
			BuildVersion:    stamp.BuildVersion,
		}
		if len(ranked) > 1 {
			runnerUp := ranked[1].EIMRaw
			decision.RunnerUpEIM = &runnerUp
		}
		out.Decisions = append(out.Decisions, decision)

		for _, loser := range ranked[1:] {
			out.Drops = append(out.Drops, models.RowDrop{
				Table:  "scored_candidates",
				Key:    loser.GuestID + "/" + loser.PromotionID,
				Reason: DropLosingCandidate,
				Detail: fmt.Sprintf("band %d, eim_final %g", loser.DiscountBand, loser.EIMRaw),
			})
		}
	}
	return out
}

// rank orders candidates by eim_final descending, then the configured
// tie-break chain, then promotion_id ascending and band ascending so the
// order is always total.
func rank(cands []models.ScoredCandidate, tieBreak []string) {
	sort.SliceStable(cands, func(a, b int) bool {
		x, y := cands[a], cands[b]
		if x.EIMRaw != y.EIMRaw {
			return x.EIMRaw > y.EIMRaw
		}
		for _, key := range tieBreak {
			switch key {
			case policy.TieBreakUplift:
				if x.Uplift != y.Uplift {
					return x.Uplift > y.Uplift
				}
			case policy.TieBreakDiscountCost:
				if x.DiscountCost != y.DiscountCost {
					return x.DiscountCost < y.DiscountCost
				}
			case policy.TieBreakMargin:
				if x.MarginPct != y.MarginPct {
					return x.MarginPct > y.MarginPct
				}
			case policy.TieBreakPromotionID:
				if x.PromotionID != y.PromotionID {
					return x.PromotionID < y.PromotionID
				}
			}
		}
		if x.PromotionID != y.PromotionID {
			return x.PromotionID < y.PromotionID
		}
		return x.DiscountBand < y.DiscountBand
	})
}

// rationale records the ordered constraint trace for auditability.
func rationale(w models.ScoredCandidate, pol policy.Policy, survivorCount int) string {
	rule := pol.Rule(w.ProductCategory)
	parts := []string{
		fmt.Sprintf("eim_final %g >= floor %g for category %s", w.EIMRaw, rule.EIMFloor, w.ProductCategory),
		fmt.Sprintf("discount band %d within cap", w.DiscountBand),
		"legal flag confirmed at decision time",
		fmt.Sprintf("ranked 1 of %d eligible candidates by eim_final", survivorCount),
	}
	return strings.Join(parts, "; ")
}
