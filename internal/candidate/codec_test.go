package candidate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guestlab/nbo/internal/candidate"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadGuestsKeepsLatestSlice(t *testing.T) {
	path := writeFile(t, t.TempDir(), "feature_mart.csv",
		"guest_id,asof_date,aov_28d,visits_90d\n"+
			"g1,2025-08-20,11.5,4\n"+
			"g1,2025-08-22,13.25,5\n"+
			"g2,2025-08-22,,2\n")
	guests, err := candidate.LoadGuests(path)
	if err != nil {
		t.Fatalf("load guests: %v", err)
	}
	if len(guests) != 2 {
		t.Fatalf("expected 2 guests, got %d", len(guests))
	}
	g1 := guests[0]
	if g1.GuestID != "g1" || g1.Features["aov_28d"] != 13.25 {
		t.Fatalf("expected latest slice for g1, got %+v", g1)
	}
	// Empty value is not a feature.
	if _, ok := guests[1].Features["aov_28d"]; ok {
		t.Fatalf("empty aov_28d should not become a feature: %+v", guests[1])
	}
	if guests[1].Features["visits_90d"] != 2 {
		t.Fatalf("expected visits_90d=2 for g2, got %+v", guests[1])
	}
}

func TestLoadTouchesAcceptsOfferIDAlias(t *testing.T) {
	path := writeFile(t, t.TempDir(), "touch_history.csv",
		"guest_id,offer_id,touch_ts,channel\n"+
			"g1,1,2025-08-21T14:00:00Z,email\n"+
			"g1,2,not-a-timestamp,email\n"+
			",3,2025-08-21T14:00:00Z,email\n")
	touches, err := candidate.LoadTouches(path)
	if err != nil {
		t.Fatalf("load touches: %v", err)
	}
	if len(touches) != 1 {
		t.Fatalf("expected 1 usable touch, got %d", len(touches))
	}
	if touches[0].PromotionID != "1" || touches[0].Channel != "email" {
		t.Fatalf("unexpected touch %+v", touches[0])
	}
}
