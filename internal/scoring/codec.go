package scoring

import (
	"fmt"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/table"
)

var header = []string{
	"guest_id", "promotion_id", "promotion_name", "product_category", "decision_time",
	"p_treat", "p_ctrl", "uplift", "expected_ticket", "margin_pct",
	"discount_band", "discount_cost", "cannibalization_penalty", "eim_raw",
}

// Write persists the scored-candidate artifact.
func Write(path string, scored []models.ScoredCandidate) error {
	rows := make([][]string, 0, len(scored))
	for _, s := range scored {
		rows = append(rows, []string{
			s.GuestID,
			s.PromotionID,
			s.PromotionName,
			s.ProductCategory,
			table.FormatTime(s.DecisionTime),
			table.FormatFloat(s.PTreat),
			table.FormatFloat(s.PCtrl),
			table.FormatFloat(s.Uplift),
			table.FormatFloat(s.ExpectedTicket),
			table.FormatFloat(s.MarginPct),
			fmt.Sprintf("%d", s.DiscountBand),
			table.FormatFloat(s.DiscountCost),
			table.FormatFloat(s.CannibalizationPenalty),
			table.FormatFloat(s.EIMRaw),
		})
	}
	return table.Write(path, header, rows)
}

// Load reads the scored-candidate artifact back into memory.
func Load(path string) ([]models.ScoredCandidate, error) {
	_, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredCandidate, 0, len(rows))
	for i, row := range rows {
		s := models.ScoredCandidate{
			GuestID:         row["guest_id"],
			PromotionID:     row["promotion_id"],
			PromotionName:   row["promotion_name"],
			ProductCategory: row["product_category"],
		}
		var err error
		if s.DecisionTime, err = table.ParseTime(row["decision_time"]); err != nil {
			return nil, fmt.Errorf("scored candidates row %d: %w", i+1, err)
		}
		fields := []struct {
			col string
			dst *float64
		}{
			{"p_treat", &s.PTreat},
			{"p_ctrl", &s.PCtrl},
			{"uplift", &s.Uplift},
			{"expected_ticket", &s.ExpectedTicket},
			{"margin_pct", &s.MarginPct},
			{"discount_cost", &s.DiscountCost},
			{"cannibalization_penalty", &s.CannibalizationPenalty},
			{"eim_raw", &s.EIMRaw},
		}
		for _, f := range fields {
			if *f.dst, err = table.ParseFloat(row[f.col]); err != nil {
				return nil, fmt.Errorf("scored candidates row %d, column %s: %w", i+1, f.col, err)
			}
		}
		band, err := table.ParseFloat(row["discount_band"])
		if err != nil {
			return nil, fmt.Errorf("scored candidates row %d, column discount_band: %w", i+1, err)
		}
		s.DiscountBand = int(band)
		out = append(out, s)
	}
	return out, nil
}
