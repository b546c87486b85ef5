// package view derives the marketing view: the decision table joined back to
// offer descriptive attributes for campaign consumers.
package view

import (
	"fmt"
	"sort"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/table"
)

// Campaign constants stamped on every view row.
const (
	CampaignType    = "NBO_ML_DRIVEN"
	TestCell        = "TREATMENT"
	SelectionMethod = "UPLIFT_MODEL"
)

// Row is one marketing-view record.
type Row struct {
	GuestID            string
	PromotionID        string
	PromotionName      string
	ProductCategory    string
	BasePrice          float64
	DiscountCost       float64
	DiscountPercentage float64
	ExpectedTicket     float64
	EIMFinal           float64
	ROIEstimate        float64
	ChannelEligibility []string
	StartDate          string
	EndDate            string
	PTreat             float64
	PCtrl              float64
	Uplift             float64
	SnapshotID         string
	BuildVersion       string
}

// Build joins decisions with catalog attributes and derives the campaign
// metrics. Output is sorted by guest_id.
func Build(decisions []models.Decision, offers map[string]models.Offer) []Row {
	rows := make([]Row, 0, len(decisions))
	for _, d := range decisions {
		r := Row{
			GuestID:         d.GuestID,
			PromotionID:     d.PromotionID,
			PromotionName:   d.PromotionName,
			ProductCategory: d.ProductCategory,
			DiscountCost:    d.DiscountCost,
			ExpectedTicket:  d.ExpectedTicket,
			EIMFinal:        d.EIMFinal,
			PTreat:          d.PTreat,
			PCtrl:           d.PCtrl,
			Uplift:          d.Uplift,
			SnapshotID:      d.SnapshotID,
			BuildVersion:    d.BuildVersion,
		}
		if o, ok := offers[d.PromotionID]; ok {
			r.BasePrice = o.BasePrice
			r.ChannelEligibility = o.ChannelEligibility
			r.StartDate = table.FormatTime(o.StartDate)
			r.EndDate = table.FormatTime(o.EndDate)
			if o.BasePrice > 0 {
				r.DiscountPercentage = d.DiscountCost / o.BasePrice * 100
			}
		}
		if d.ExpectedTicket > 0 {
			r.ROIEstimate = d.EIMFinal / d.ExpectedTicket
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].GuestID < rows[b].GuestID })
	return rows
}

var header = []string{
	"guest_id", "promotion_id", "promotion_name", "product_category",
	"campaign_type", "test_cell", "selection_method",
	"base_price", "discount_cost_banded", "discount_percentage",
	"expected_ticket", "eim_final", "roi_estimate",
	"channel_eligibility", "start_date", "end_date",
	"p_treat", "p_ctrl", "uplift",
	"snapshot_id", "build_version",
}

// Write persists the marketing view artifact.
func Write(path string, rows []Row) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.GuestID,
			r.PromotionID,
			r.PromotionName,
			r.ProductCategory,
			CampaignType,
			TestCell,
			SelectionMethod,
			table.FormatFloat(r.BasePrice),
			table.FormatFloat(r.DiscountCost),
			table.FormatFloat(r.DiscountPercentage),
			table.FormatFloat(r.ExpectedTicket),
			table.FormatFloat(r.EIMFinal),
			table.FormatFloat(r.ROIEstimate),
			table.FormatStringList(r.ChannelEligibility),
			r.StartDate,
			r.EndDate,
			table.FormatFloat(r.PTreat),
			table.FormatFloat(r.PCtrl),
			table.FormatFloat(r.Uplift),
			r.SnapshotID,
			r.BuildVersion,
		})
	}
	if err := table.Write(path, header, records); err != nil {
		return fmt.Errorf("write marketing view: %w", err)
	}
	return nil
}
