package guardrail

import (
	"fmt"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/table"
)

var header = []string{
	"guest_id", "promotion_id", "promotion_name", "product_category", "decision_time",
	"p_treat", "p_ctrl", "uplift", "expected_ticket", "margin_pct",
	"discount_band", "discount_cost_banded", "cannibalization_penalty", "eim_final",
	"runner_up_eim", "why_selected",
	"run_id", "snapshot_id", "decided_at", "model_version", "build_version",
}

// Write persists the decision table artifact.
func Write(path string, decisions []models.Decision) error {
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		runnerUp := ""
		if d.RunnerUpEIM != nil {
			runnerUp = table.FormatFloat(*d.RunnerUpEIM)
		}
		rows = append(rows, []string{
			d.GuestID,
			d.PromotionID,
			d.PromotionName,
			d.ProductCategory,
			table.FormatTime(d.DecisionTime),
			table.FormatFloat(d.PTreat),
			table.FormatFloat(d.PCtrl),
			table.FormatFloat(d.Uplift),
			table.FormatFloat(d.ExpectedTicket),
			table.FormatFloat(d.MarginPct),
			fmt.Sprintf("%d", d.DiscountBand),
			table.FormatFloat(d.DiscountCost),
			table.FormatFloat(d.CannibalizationPenalty),
			table.FormatFloat(d.EIMFinal),
			runnerUp,
			d.WhySelected,
			d.RunID,
			d.SnapshotID,
			table.FormatTime(d.DecidedAt),
			d.ModelVersion,
			d.BuildVersion,
		})
	}
	return table.Write(path, header, rows)
}

// Load reads the decision table artifact back into memory.
func Load(path string) ([]models.Decision, error) {
	_, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	out := make([]models.Decision, 0, len(rows))
	for i, row := range rows {
		d := models.Decision{
			RunID:        row["run_id"],
			SnapshotID:   row["snapshot_id"],
			ModelVersion: row["model_version"],
			BuildVersion: row["build_version"],
			WhySelected:  row["why_selected"],
		}
		d.GuestID = row["guest_id"]
		d.PromotionID = row["promotion_id"]
		d.PromotionName = row["promotion_name"]
		d.ProductCategory = row["product_category"]
		var err error
		if d.DecisionTime, err = table.ParseTime(row["decision_time"]); err != nil {
			return nil, fmt.Errorf("decisions row %d: %w", i+1, err)
		}
		if d.DecidedAt, err = table.ParseTime(row["decided_at"]); err != nil {
			return nil, fmt.Errorf("decisions row %d: %w", i+1, err)
		}
		fields := []struct {
			col string
			dst *float64
		}{
			{"p_treat", &d.PTreat},
			{"p_ctrl", &d.PCtrl},
			{"uplift", &d.Uplift},
			{"expected_ticket", &d.ExpectedTicket},
			{"margin_pct", &d.MarginPct},
			{"discount_cost_banded", &d.DiscountCost},
			{"cannibalization_penalty", &d.CannibalizationPenalty},
			{"eim_final", &d.EIMFinal},
		}
		for _, f := range fields {
			if *f.dst, err = table.ParseFloat(row[f.col]); err != nil {
				return nil, fmt.Errorf("decisions row %d, column %s: %w", i+1, f.col, err)
			}
		}
		band, err := table.ParseFloat(row["discount_band"])
		if err != nil {
			return nil, fmt.Errorf("decisions row %d, column discount_band: %w", i+1, err)
		}
		d.DiscountBand = int(band)
		if v := row["runner_up_eim"]; v != "" {
			ru, err := table.ParseFloat(v)
			if err != nil {
				return nil, fmt.Errorf("decisions row %d, column runner_up_eim: %w", i+1, err)
			}
			d.RunnerUpEIM = &ru
		}
		out = append(out, d)
	}
	return out, nil
}
