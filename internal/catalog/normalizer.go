// package catalog normalizes the raw offer master into the canonical catalog
// table. Row-local coercion failures are dropped with a reason code; the stage
// only fails when nothing survives.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/table"
)

// ErrFatalEmptyCatalog is returned when normalization leaves zero offers.
var ErrFatalEmptyCatalog = errors.New("fatal empty catalog: no offers survived normalization")

// Drop reason codes.
const (
	DropMissingID        = "missing_promotion_id"
	DropDuplicateID      = "duplicate_promotion_id"
	DropBadPrice         = "bad_base_price"
	DropBadDate          = "bad_date"
	DropBadWindow        = "bad_validity_window"
	DropBadLegal         = "bad_legal_flag"
	DropBelowMarginFloor = "below_margin_floor"
)

// Result is the normalizer output: canonical offers plus the row-drop log.
type Result struct {
	Offers []models.Offer
	Drops  []models.RowDrop
}

// Normalize coerces raw offer rows into canonical offers, applying per-category
// economics from the policy. Output is stably sorted by promotion_id so
// identical input bytes yield identical output bytes.
func Normalize(rows []table.Row, pol policy.Policy) (Result, error) {
	var res Result
	seen := map[string]bool{}

	for i, row := range rows {
		key := row["promotion_id"]
		drop := func(reason, detail string) {
			if key == "" {
				key = fmt.Sprintf("row %d", i+1)
			}
			res.Drops = append(res.Drops, models.RowDrop{Table: "offer_master", Key: key, Reason: reason, Detail: detail})
		}

		if key == "" {
			drop(DropMissingID, "promotion_id is empty")
			continue
		}
		if seen[key] {
			drop(DropDuplicateID, "promotion_id appeared earlier in the catalog")
			continue
		}

		price, err := table.ParseFloat(row["base_price"])
		if err != nil || price < 0 {
			drop(DropBadPrice, fmt.Sprintf("base_price %q", row["base_price"]))
			continue
		}
		start, err := table.ParseTime(row["start_date"])
		if err != nil {
			drop(DropBadDate, fmt.Sprintf("start_date %q", row["start_date"]))
			continue
		}
		end, err := table.ParseTime(row["end_date"])
		if err != nil {
			drop(DropBadDate, fmt.Sprintf("end_date %q", row["end_date"]))
			continue
		}
		if end.Before(start) {
			drop(DropBadWindow, fmt.Sprintf("end_date %s precedes start_date %s", row["end_date"], row["start_date"]))
			continue
		}
		legal, err := table.ParseBool(row["legal_flag"])
		if err != nil {
			drop(DropBadLegal, fmt.Sprintf("legal_flag %q", row["legal_flag"]))
			continue
		}

		rule := pol.Rule(row["product_category"])
		if rule.MarginBasisPct < rule.MarginFloorPct {
			drop(DropBelowMarginFloor, fmt.Sprintf("margin basis %g below floor %g for category %q",
				rule.MarginBasisPct, rule.MarginFloorPct, row["product_category"]))
			continue
		}
		offer := models.Offer{
			PromotionID:          key,
			PromotionName:        row["promotion_name"],
			ProductCategory:      row["product_category"],
			BasePrice:            price,
			StartDate:            start,
			EndDate:              end,
			LegalFlag:            legal,
			ChannelEligibility:   table.ParseStringList(row["channel_eligibility"]),
			MarginBasisPct:       rule.MarginBasisPct,
			MarginFloorPct:       rule.MarginFloorPct,
			MaxDiscountPct:       rule.MaxDiscountPct,
			AllowedDiscountBands: append([]int(nil), rule.AllowedDiscountBands...),
		}
		seen[key] = true
		res.Offers = append(res.Offers, offer)
	}

	sort.Slice(res.Offers, func(a, b int) bool {
		return res.Offers[a].PromotionID < res.Offers[b].PromotionID
	})

	if len(res.Offers) == 0 {
		return res, ErrFatalEmptyCatalog
	}
	return res, nil
}
