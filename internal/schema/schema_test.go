package schema_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/guestlab/nbo/internal/schema"
	"github.com/guestlab/nbo/internal/table"
)

func TestDefaultDescriptionParses(t *testing.T) {
	d := schema.Default()
	if _, ok := d.Tables["offer_master.csv"]; !ok {
		t.Fatalf("default description missing offer_master")
	}
	if !d.Tables["touch_history.csv"].Optional {
		t.Fatalf("touch_history should be optional")
	}
}

func TestParseRejectsMalformedDescription(t *testing.T) {
	if _, err := schema.Parse([]byte(`{"tables": "not-an-object"}`)); err == nil {
		t.Fatalf("expected meta-schema violation")
	}
	if _, err := schema.Parse([]byte(`{`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateTableFindsMissingColumn(t *testing.T) {
	d := schema.Default()
	header := []string{"promotion_id", "promotion_name"}
	violations := d.ValidateTable("offer_master.csv", header, nil)
	if len(violations) == 0 {
		t.Fatalf("expected missing-column violations")
	}
	for _, v := range violations {
		if v.Kind != "missing_column" {
			t.Fatalf("unexpected violation kind %s", v.Kind)
		}
	}
}

func TestValidateTableFindsTypeMismatch(t *testing.T) {
	d := schema.Default()
	header := []string{"guest_id", "promotion_id", "touch_ts", "channel"}
	rows := []table.Row{{"guest_id": "g1", "promotion_id": "1", "touch_ts": "not-a-time", "channel": "email"}}
	violations := d.ValidateTable("touch_history.csv", header, rows)
	if len(violations) != 1 || violations[0].Kind != "type_mismatch" || violations[0].Column != "touch_ts" {
		t.Fatalf("expected a touch_ts type mismatch, got %v", violations)
	}
}

func TestValidateTableAcceptsOfferIDAlias(t *testing.T) {
	d := schema.Default()
	header := []string{"guest_id", "offer_id", "touch_ts"}
	rows := []table.Row{{"guest_id": "g1", "offer_id": "1", "touch_ts": "2025-08-21T10:00:00Z"}}
	if violations := d.ValidateTable("touch_history.csv", header, rows); len(violations) != 0 {
		t.Fatalf("offer_id alias should satisfy promotion_id: %v", violations)
	}
}

func TestPreflightBlocksOnViolations(t *testing.T) {
	dir := t.TempDir()
	// offer_master with a bad base_price type and feature_mart missing.
	content := "promotion_id,promotion_name,product_category,base_price,start_date,end_date,legal_flag,channel_eligibility\n" +
		"1,Promo,Beverage,expensive,2025-08-01,2025-09-01,true,\"[]\"\n"
	if err := os.WriteFile(filepath.Join(dir, "offer_master.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := schema.Default().Preflight([]string{"offer_master", "feature_mart"}, dir)
	var pre *schema.PreflightError
	if !errors.As(err, &pre) {
		t.Fatalf("expected PreflightError, got %v", err)
	}
	kinds := map[string]bool{}
	for _, v := range pre.Violations {
		kinds[v.Kind] = true
	}
	if !kinds["type_mismatch"] || !kinds["missing_table"] {
		t.Fatalf("expected type_mismatch and missing_table, got %v", pre.Violations)
	}
}

func TestPreflightSkipsMissingOptionalTables(t *testing.T) {
	dir := t.TempDir()
	offerMaster := "promotion_id,promotion_name,product_category,base_price,start_date,end_date,legal_flag,channel_eligibility\n" +
		"1,Promo,Beverage,4.50,2025-08-01,2025-09-01,true,\"[]\"\n"
	featureMart := "guest_id,asof_date,aov_28d\ng1,2025-08-22,12.5\n"
	if err := os.WriteFile(filepath.Join(dir, "offer_master.csv"), []byte(offerMaster), 0o644); err != nil {
		t.Fatalf("write offer_master: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "feature_mart.csv"), []byte(featureMart), 0o644); err != nil {
		t.Fatalf("write feature_mart: %v", err)
	}

	if err := schema.Default().Preflight([]string{"offer_master", "feature_mart", "touch_history"}, dir); err != nil {
		t.Fatalf("missing optional touch_history should not block: %v", err)
	}
}
