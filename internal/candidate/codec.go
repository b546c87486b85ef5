package candidate

import (
	"fmt"
	"sort"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/table"
)

var header = []string{"guest_id", "promotion_id", "decision_time"}

// Write persists candidates as the candidates artifact.
func Write(path string, cands []models.Candidate) error {
	rows := make([][]string, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, []string{c.GuestID, c.PromotionID, table.FormatTime(c.DecisionTime)})
	}
	return table.Write(path, header, rows)
}

// Load reads the candidates artifact back into memory.
func Load(path string) ([]models.Candidate, error) {
	_, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	cands := make([]models.Candidate, 0, len(rows))
	for i, row := range rows {
		ts, err := table.ParseTime(row["decision_time"])
		if err != nil {
			return nil, fmt.Errorf("candidates row %d: %w", i+1, err)
		}
		cands = append(cands, models.Candidate{
			GuestID:      row["guest_id"],
			PromotionID:  row["promotion_id"],
			DecisionTime: ts,
		})
	}
	return cands, nil
}

// LoadGuests reads the feature mart, keeping the latest as-of slice per guest.
// Numeric columns become the feature vector; unparseable values are simply not
// features.
func LoadGuests(path string) ([]models.Guest, error) {
	header, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}

	latest := map[string]models.Guest{}
	for _, row := range rows {
		id := row["guest_id"]
		if id == "" {
			continue
		}
		g := models.Guest{GuestID: id, Features: map[string]float64{}}
		if v := row["asof_date"]; v != "" {
			if ts, err := table.ParseTime(v); err == nil {
				g.AsOfDate = ts
			}
		}
		for _, col := range header {
			if col == "guest_id" || col == "asof_date" {
				continue
			}
			if f, err := table.ParseFloat(row[col]); err == nil {
				g.Features[col] = f
			}
		}
		prev, ok := latest[id]
		if !ok || !g.AsOfDate.Before(prev.AsOfDate) {
			latest[id] = g
		}
	}

	guests := make([]models.Guest, 0, len(latest))
	for _, g := range latest {
		guests = append(guests, g)
	}
	sort.Slice(guests, func(a, b int) bool { return guests[a].GuestID < guests[b].GuestID })
	return guests, nil
}

// LoadTouches reads the touch history. The extract sometimes labels the offer
// column offer_id; both spellings are accepted. Rows with unparseable
// timestamps are skipped: they cannot fall in any window.
func LoadTouches(path string) ([]models.Touch, error) {
	_, rows, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	touches := make([]models.Touch, 0, len(rows))
	for _, row := range rows {
		promo := row["promotion_id"]
		if promo == "" {
			promo = row["offer_id"]
		}
		if row["guest_id"] == "" || promo == "" {
			continue
		}
		ts, err := table.ParseTime(row["touch_ts"])
		if err != nil {
			continue
		}
		touches = append(touches, models.Touch{
			GuestID:     row["guest_id"],
			PromotionID: promo,
			TouchTS:     ts,
			Channel:     row["channel"],
		})
	}
	return touches, nil
}
