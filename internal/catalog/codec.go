package catalog

import (
	"fmt"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/table"
)

var header = []string{
	"promotion_id", "promotion_name", "product_category", "base_price",
	"start_date", "end_date", "legal_flag", "channel_eligibility",
	"margin_basis_pct", "margin_floor_pct", "max_discount_pct", "allowed_discount_bands",
}

// Write persists canonical offers as the offer catalog artifact.
func Write(path string, offers []models.Offer) error {
	rows := make([][]string, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, []string{
			o.PromotionID,
			o.PromotionName,
			o.ProductCategory,
			table.FormatFloat(o.BasePrice),
			table.FormatTime(o.StartDate),
			table.FormatTime(o.EndDate),
			fmt.Sprintf("%t", o.LegalFlag),
			table.FormatStringList(o.ChannelEligibility),
			table.FormatFloat(o.MarginBasisPct),
			table.FormatFloat(o.MarginFloorPct),
			fmt.Sprintf("%d", o.MaxDiscountPct),
			table.FormatIntList(o.AllowedDiscountBands),
		})
	}
	return table.Write(path, header, rows)
}

// Load reads a canonical offer catalog artifact back into memory.
func Load(path string) ([]models.Offer, error) {
	_, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	offers := make([]models.Offer, 0, len(rows))
	for i, row := range rows {
		o := models.Offer{
			PromotionID:        row["promotion_id"],
			PromotionName:      row["promotion_name"],
			ProductCategory:    row["product_category"],
			ChannelEligibility: table.ParseStringList(row["channel_eligibility"]),
		}
		var err error
		if o.BasePrice, err = table.ParseFloat(row["base_price"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		if o.StartDate, err = table.ParseTime(row["start_date"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		if o.EndDate, err = table.ParseTime(row["end_date"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		if o.LegalFlag, err = table.ParseBool(row["legal_flag"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		if o.MarginBasisPct, err = table.ParseFloat(row["margin_basis_pct"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		if o.MarginFloorPct, err = table.ParseFloat(row["margin_floor_pct"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		maxDisc, err := table.ParseFloat(row["max_discount_pct"])
		if err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		o.MaxDiscountPct = int(maxDisc)
		if o.AllowedDiscountBands, err = table.ParseIntList(row["allowed_discount_bands"]); err != nil {
			return nil, fmt.Errorf("offer catalog row %d: %w", i+1, err)
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// Index keys offers by promotion id for joins and legality re-checks.
func Index(offers []models.Offer) map[string]models.Offer {
	idx := make(map[string]models.Offer, len(offers))
	for _, o := range offers {
		idx[o.PromotionID] = o
	}
	return idx
}
