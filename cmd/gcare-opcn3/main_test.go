package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseScalarLine(t *testing.T) {
	field, value, ok := parseScalarLine(`opcn3_scalar{field="PM2.5 (ug/m3)"} 12.75`)
	if !ok || field != "PM2.5 (ug/m3)" || value != 12.75 {
		t.Fatalf("unexpected parse: %q %v %v", field, value, ok)
	}
	if _, _, ok := parseScalarLine(`opcn3_bin_count{bin="3"} 4`); ok {
		t.Fatalf("expected non-scalar line to be ignored")
	}
	if _, _, ok := parseScalarLine(`opcn3_scalar{field="PM1 (ug/m3)"} nope`); ok {
		t.Fatalf("expected malformed value to be rejected")
	}
}

func TestPrintMetricsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "# HELP opcn3_samples_written_total Samples appended to the daily log.")
		fmt.Fprintln(w, "opcn3_samples_written_total 3")
		fmt.Fprintln(w, `opcn3_scalar{field="PM1 (ug/m3)"} 1.5`)
	}))
	defer srv.Close()

	if err := printMetricsSnapshot(srv.URL); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}

func TestPrintMetricsSnapshotBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if err := printMetricsSnapshot(srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
}
