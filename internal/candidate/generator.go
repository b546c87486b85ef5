// package candidate builds deduplicated scoring candidates: eligible guests
// cross eligible offers, minus pairs inside the contact-fatigue window.
package candidate

import (
	"sort"
	"time"

	"github.com/guestlab/nbo/internal/models"
)

// QAWarning flags a (guest, offer) pair that appeared more than once before
// dedup. A source-data integrity issue, logged but never fatal.
type QAWarning struct {
	GuestID     string
	PromotionID string
	Count       int
}

// Result is the generator output.
type Result struct {
	Candidates  []models.Candidate
	Duplicates  []QAWarning
	FatigueHits int
}

type pairKey struct {
	guest string
	promo string
}

// Generate cross-joins eligible guests with eligible offers, removes pairs
// whose promotion was touched within the fatigue window preceding the guest's
// as-of date, and deduplicates the remainder. An empty touch history means no
// fatigue filtering, not an error. Output is stably ordered by
// (guest_id, promotion_id).
func Generate(offers []models.Offer, guests []models.Guest, touches []models.Touch, decisionDate time.Time, window time.Duration) Result {
	fatigued := fatigueSets(guests, touches, decisionDate, window)

	counts := map[pairKey]int{}
	var res Result
	for _, g := range guests {
		recent := fatigued[g.GuestID]
		for _, o := range offers {
			if !o.EligibleAt(decisionDate) {
				continue
			}
			if recent[o.PromotionID] {
				res.FatigueHits++
				continue
			}
			key := pairKey{guest: g.GuestID, promo: o.PromotionID}
			counts[key]++
			if counts[key] > 1 {
				continue
			}
			res.Candidates = append(res.Candidates, models.Candidate{
				GuestID:      g.GuestID,
				PromotionID:  o.PromotionID,
				DecisionTime: decisionDate,
			})
		}
	}

	for key, n := range counts {
		if n > 1 {
			res.Duplicates = append(res.Duplicates, QAWarning{GuestID: key.guest, PromotionID: key.promo, Count: n})
		}
	}
	sort.Slice(res.Duplicates, func(a, b int) bool {
		if res.Duplicates[a].GuestID != res.Duplicates[b].GuestID {
			return res.Duplicates[a].GuestID < res.Duplicates[b].GuestID
		}
		return res.Duplicates[a].PromotionID < res.Duplicates[b].PromotionID
	})
	sort.Slice(res.Candidates, func(a, b int) bool {
		if res.Candidates[a].GuestID != res.Candidates[b].GuestID {
			return res.Candidates[a].GuestID < res.Candidates[b].GuestID
		}
		return res.Candidates[a].PromotionID < res.Candidates[b].PromotionID
	})
	return res
}

// fatigueSets returns, per guest, the promotions touched inside the half-open
// window [asof-window, asof). A touch exactly at decision time does not count.
func fatigueSets(guests []models.Guest, touches []models.Touch, decisionDate time.Time, window time.Duration) map[string]map[string]bool {
	asof := make(map[string]time.Time, len(guests))
	for _, g := range guests {
		if g.AsOfDate.IsZero() {
			asof[g.GuestID] = decisionDate
		} else {
			asof[g.GuestID] = g.AsOfDate
		}
	}

	sets := map[string]map[string]bool{}
	for _, t := range touches {
		upper, ok := asof[t.GuestID]
		if !ok {
			continue
		}
		lower := upper.Add(-window)
		if t.TouchTS.Before(lower) || !t.TouchTS.Before(upper) {
			continue
		}
		set := sets[t.GuestID]
		if set == nil {
			set = map[string]bool{}
			sets[t.GuestID] = set
		}
		set[t.PromotionID] = true
	}
	return sets
}
