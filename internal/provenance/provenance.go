// package provenance stamps pipeline outputs with the run identity and
// versions, and streams/archives the audit trail.
package provenance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stamp carries the provenance fields attached to every decision row and to
// the run manifest.
type Stamp struct {
	RunID        string
	SnapshotID   string
	ModelVersion string
	BuildVersion string
	DecidedAt    time.Time
}

// NewStamp derives the stamp for a run. SnapshotID follows the decision-date
// naming used by downstream consumers (YYYY_MM_DD).
func NewStamp(runID uuid.UUID, decisionDate time.Time, modelVersion, buildVersion string, decidedAt time.Time) Stamp {
	return Stamp{
		RunID:        runID.String(),
		SnapshotID:   decisionDate.UTC().Format("2006_01_02"),
		ModelVersion: modelVersion,
		BuildVersion: buildVersion,
		DecidedAt:    decidedAt.UTC(),
	}
}

// StageEvent is the provenance record emitted as each stage reaches terminal
// status.
type StageEvent struct {
	EventID string    `json:"eventId"`
	RunID   string    `json:"runId"`
	Stage   string    `json:"stage"`
	Status  string    `json:"status"`
	RowsIn  int       `json:"rowsIn"`
	RowsOut int       `json:"rowsOut"`
	Error   string    `json:"error,omitempty"`
	Ts      time.Time `json:"ts"`
}

// EventSink receives stage events. A nil sink is valid and drops everything;
// event delivery must never alter pipeline semantics.
type EventSink interface {
	StageCompleted(ctx context.Context, ev StageEvent) error
}
