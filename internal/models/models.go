// package models contains the canonical records that flow through the NBO
// decision pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Offer is a canonical catalog entry produced by the catalog normalizer.
type Offer struct {
	PromotionID          string    `json:"promotionId"`
	PromotionName        string    `json:"promotionName"`
	ProductCategory      string    `json:"productCategory"`
	BasePrice            float64   `json:"basePrice"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	LegalFlag            bool      `json:"legalFlag"`
	ChannelEligibility   []string  `json:"channelEligibility"`
	MarginBasisPct       float64   `json:"marginBasisPct"`
	MarginFloorPct       float64   `json:"marginFloorPct"`
	MaxDiscountPct       int       `json:"maxDiscountPct"`
	AllowedDiscountBands []int     `json:"allowedDiscountBands"`
}

// EligibleAt reports whether the offer may be presented on the given decision date.
func (o Offer) EligibleAt(date time.Time) bool {
	if !o.LegalFlag {
		return false
	}
	if date.Before(o.StartDate) || date.After(o.EndDate) {
		return false
	}
	return o.PromotionID != ""
}

// Guest is a scoring subject as of a decision date. Read-only to the pipeline.
type Guest struct {
	GuestID  string             `json:"guestId"`
	AsOfDate time.Time          `json:"asofDate"`
	Features map[string]float64 `json:"features"`
}

// Touch is a historical contact event used only for fatigue computation.
type Touch struct {
	GuestID     string    `json:"guestId"`
	PromotionID string    `json:"promotionId"`
	TouchTS     time.Time `json:"touchTs"`
	Channel     string    `json:"channel"`
}

// Candidate is a (guest, offer) pair that survived fatigue filtering.
// Unique by (GuestID, PromotionID) within a run.
type Candidate struct {
	GuestID      string    `json:"guestId"`
	PromotionID  string    `json:"promotionId"`
	DecisionTime time.Time `json:"decisionTime"`
}

// ScoredCandidate is a candidate augmented with scorer output and offer
// economics, one row per allowed discount band.
type ScoredCandidate struct {
	GuestID                string    `json:"guestId"`
	PromotionID            string    `json:"promotionId"`
	PromotionName          string    `json:"promotionName"`
	ProductCategory        string    `json:"productCategory"`
	DecisionTime           time.Time `json:"decisionTime"`
	PTreat                 float64   `json:"pTreat"`
	PCtrl                  float64   `json:"pCtrl"`
	Uplift                 float64   `json:"uplift"`
	ExpectedTicket         float64   `json:"expectedTicket"`
	MarginPct              float64   `json:"marginPct"`
	DiscountBand           int       `json:"discountBand"`
	DiscountCost           float64   `json:"discountCost"`
	CannibalizationPenalty float64   `json:"cannibalizationPenalty"`
	EIMRaw                 float64   `json:"eimRaw"`
}

// Decision is the single selected offer for a guest in a run.
type Decision struct {
	ScoredCandidate
	EIMFinal     float64   `json:"eimFinal"`
	WhySelected  string    `json:"whySelected"`
	RunnerUpEIM  *float64  `json:"runnerUpEim,omitempty"`
	RunID        string    `json:"runId"`
	SnapshotID   string    `json:"snapshotId"`
	DecidedAt    time.Time `json:"decidedAt"`
	ModelVersion string    `json:"modelVersion"`
	BuildVersion string    `json:"buildVersion"`
}

// RowDrop records a row-local data error: the row is excluded with an
// attributable reason rather than failing the stage.
type RowDrop struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Run statuses.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Stage statuses.
const (
	StageStatusSucceeded = "succeeded"
	StageStatusFailed    = "failed"
	StageStatusSkipped   = "skipped"
)

// Run is one execution of the pipeline (full, contiguous subset, or single stage).
type Run struct {
	ID            uuid.UUID     `json:"id"`
	Status        string        `json:"status"`
	Stages        []string      `json:"stages,omitempty"`
	InputDir      string        `json:"inputDir"`
	OutputDir     string        `json:"outputDir"`
	DecisionDate  time.Time     `json:"decisionDate"`
	ModelVersion  string        `json:"modelVersion"`
	NoOfferGuests int           `json:"noOfferGuests"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
	StageResults  []StageResult `json:"stageResults,omitempty"`
}

// StageResult is the terminal record for one stage within a run.
type StageResult struct {
	RunID      uuid.UUID  `json:"runId"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Position   int        `json:"position"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	RowsIn     int        `json:"rowsIn"`
	RowsOut    int        `json:"rowsOut"`
	Outputs    []string   `json:"outputs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manifest is the per-run provenance record consumed by downstream auditing.
// It is written once per run, even when a stage fails.
type Manifest struct {
	RunID         string          `json:"runId"`
	Status        string          `json:"status"`
	DecisionDate  time.Time       `json:"decisionDate"`
	ModelVersion  string          `json:"modelVersion"`
	BuildVersion  string          `json:"buildVersion"`
	SnapshotID    string          `json:"snapshotId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Stages        []ManifestStage `json:"stages"`
	NoOfferGuests int             `json:"noOfferGuests"`
	RowDrops      int             `json:"rowDrops"`
	DropsByTable  map[string]int  `json:"dropsByTable,omitempty"`
}

// ManifestStage mirrors StageResult in the manifest document.
type ManifestStage struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	RowsIn     int        `json:"rowsIn"`
	RowsOut    int        `json:"rowsOut"`
	Outputs    []string   `json:"outputs,omitempty"`
	Error      string     `json:"error,omitempty"`
}
