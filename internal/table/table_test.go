package table_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guestlab/nbo/internal/table"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "things.csv")
	header := []string{"id", "value"}
	rows := [][]string{{"a", "1.5"}, {"b", "2"}}
	if err := table.Write(path, header, rows); err != nil {
		t.Fatalf("write: %v", err)
	}

	gotHeader, gotRows, err := table.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(gotHeader) != 2 || gotHeader[0] != "id" {
		t.Fatalf("unexpected header %v", gotHeader)
	}
	if len(gotRows) != 2 || gotRows[0]["value"] != "1.5" {
		t.Fatalf("unexpected rows %v", gotRows)
	}

	// No temp files left behind after the atomic rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact in %s, found %d entries", dir, len(entries))
	}
}

func TestReadMissingFileIsNotFound(t *testing.T) {
	_, _, err := table.Read(filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePrefersEarlierDirs(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	if err := table.Write(filepath.Join(inputDir, "t.csv"), []string{"a"}, nil); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := table.Write(filepath.Join(outputDir, "t.csv"), []string{"a"}, nil); err != nil {
		t.Fatalf("write output: %v", err)
	}

	path, err := table.Resolve("t.csv", outputDir, inputDir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if path != filepath.Join(outputDir, "t.csv") {
		t.Fatalf("expected output dir to shadow input dir, got %s", path)
	}

	if _, err := table.Resolve("other.csv", outputDir, inputDir); err == nil {
		t.Fatalf("expected not found for unknown table")
	}
}

func TestParseTimeAcceptsCommonLayouts(t *testing.T) {
	cases := []string{
		"2025-08-22T10:30:00Z",
		"2025-08-22T10:30:00.123Z",
		"2025-08-22 10:30:00",
		"2025-08-22",
	}
	for _, s := range cases {
		if _, err := table.ParseTime(s); err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
	}
	if _, err := table.ParseTime("yesterday"); err == nil {
		t.Fatalf("expected failure for unparseable timestamp")
	}
}

func TestFormatFloatIsCanonical(t *testing.T) {
	cases := map[float64]string{
		1.5:   "1.5",
		2:     "2",
		0.225: "0.225",
	}
	for v, want := range cases {
		if got := table.FormatFloat(v); got != want {
			t.Fatalf("format %g: expected %q, got %q", v, want, got)
		}
	}
}

func TestFormatTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	got := table.FormatTime(time.Date(2025, 8, 22, 0, 0, 0, 0, loc))
	if got != "2025-08-22T05:00:00Z" {
		t.Fatalf("expected UTC rendering, got %s", got)
	}
}

func TestParseBoolSpreadsheetSpellings(t *testing.T) {
	for _, s := range []string{"true", "T", "1", "Yes", "y"} {
		v, err := table.ParseBool(s)
		if err != nil || !v {
			t.Fatalf("expected %q to parse true, got %v %v", s, v, err)
		}
	}
	for _, s := range []string{"false", "F", "0", "No", "n"} {
		v, err := table.ParseBool(s)
		if err != nil || v {
			t.Fatalf("expected %q to parse false, got %v %v", s, v, err)
		}
	}
	if _, err := table.ParseBool("maybe"); err == nil {
		t.Fatalf("expected error for unparseable bool")
	}
}

func TestListHelpersRoundTrip(t *testing.T) {
	strs := table.ParseStringList(`["app","email"]`)
	if len(strs) != 2 || strs[1] != "email" {
		t.Fatalf("unexpected string list %v", strs)
	}
	strs = table.ParseStringList("app, email")
	if len(strs) != 2 || strs[0] != "app" {
		t.Fatalf("comma list failed: %v", strs)
	}
	if got := table.FormatStringList(nil); got != "[]" {
		t.Fatalf("empty list should render [], got %q", got)
	}

	ints, err := table.ParseIntList("[0,5,10]")
	if err != nil || len(ints) != 3 || ints[2] != 10 {
		t.Fatalf("unexpected int list %v %v", ints, err)
	}
	ints, err = table.ParseIntList("0, 5")
	if err != nil || len(ints) != 2 {
		t.Fatalf("comma int list failed: %v %v", ints, err)
	}
	if got := table.FormatIntList([]int{0, 5}); got != "[0,5]" {
		t.Fatalf("unexpected int list rendering %q", got)
	}
}
