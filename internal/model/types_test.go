package model_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/call-report/data-collector/internal/model"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func mustPeriod(t *testing.T, value, display string) model.ReportingPeriod {
	t.Helper()
	p, err := model.NewReportingPeriod(value, display)
	if err != nil {
		t.Fatalf("NewReportingPeriod(%q): %v", display, err)
	}
	return p
}

// ─── Products ─────────────────────────────────────────────────────────────────

func TestProductPredicates(t *testing.T) {
	cases := []struct {
		p                    model.Product
		single, call, isUBPR bool
	}{
		{model.CallSingle, true, true, false},
		{model.CallFourPeriods, false, true, false},
		{model.UBPRRatioSingle, true, false, true},
		{model.UBPRRatioFour, false, false, true},
		{model.UBPRRankFour, false, false, true},
		{model.UBPRStatsFour, false, false, true},
	}
	for _, c := range cases {
		if got := c.p.IsSinglePeriod(); got != c.single {
			t.Errorf("%s IsSinglePeriod: expected %v, got %v", c.p, c.single, got)
		}
		if got := c.p.IsCallReport(); got != c.call {
			t.Errorf("%s IsCallReport: expected %v, got %v", c.p, c.call, got)
		}
		if got := c.p.IsUBPR(); got != c.isUBPR {
			t.Errorf("%s IsUBPR: expected %v, got %v", c.p, c.isUBPR, got)
		}
	}
}

func TestProductFormValues(t *testing.T) {
	if v := model.CallSingle.FormValue(); v != "ReportingSeriesSinglePeriod" {
		t.Errorf("CallSingle form value: got %q", v)
	}
	if !strings.Contains(model.CallSingle.Label(), "Call Reports") {
		t.Errorf("CallSingle label: got %q", model.CallSingle.Label())
	}
	if len(model.AllProducts()) != 6 {
		t.Errorf("expected 6 products, got %d", len(model.AllProducts()))
	}
}

func TestParseProduct(t *testing.T) {
	for _, in := range []string{"call-single", "CALL-SINGLE", "ReportingSeriesSinglePeriod"} {
		p, err := model.ParseProduct(in)
		if err != nil {
			t.Fatalf("ParseProduct(%q): %v", in, err)
		}
		if p != model.CallSingle {
			t.Errorf("ParseProduct(%q): expected call-single, got %s", in, p)
		}
	}
	if _, err := model.ParseProduct("nope"); err == nil {
		t.Error("expected error for unknown product")
	}
}

func TestParseFileFormat(t *testing.T) {
	f, err := model.ParseFileFormat("XBRL")
	if err != nil || f != model.XBRL {
		t.Fatalf("ParseFileFormat(XBRL): %v %v", f, err)
	}
	if model.XBRL.FormValue() != "XBRLRadiobutton" {
		t.Errorf("XBRL form value: got %q", model.XBRL.FormValue())
	}
	if model.TSV.MIMEType() != "text/tab-separated-values" {
		t.Errorf("TSV mime: got %q", model.TSV.MIMEType())
	}
	if _, err := model.ParseFileFormat("pdf"); err == nil {
		t.Error("expected error for pdf")
	}
}

// ─── Reporting Periods ────────────────────────────────────────────────────────

func TestReportingPeriodDerived(t *testing.T) {
	p := mustPeriod(t, "146", "03/31/2024")
	if p.Quarter() != 1 {
		t.Errorf("Quarter: expected 1, got %d", p.Quarter())
	}
	if p.Year() != 2024 {
		t.Errorf("Year: expected 2024, got %d", p.Year())
	}
	if p.Key() != "20240331" {
		t.Errorf("Key: expected 20240331, got %q", p.Key())
	}
	if p.String() != "Q1 2024 (03/31/2024)" {
		t.Errorf("String: got %q", p.String())
	}
}

func TestReportingPeriodQuarters(t *testing.T) {
	cases := map[string]int{
		"01/15/2024": 1,
		"03/31/2024": 1,
		"06/30/2024": 2,
		"09/30/2024": 3,
		"10/01/2024": 4,
		"12/31/2024": 4,
	}
	for date, want := range cases {
		if got := mustPeriod(t, "1", date).Quarter(); got != want {
			t.Errorf("%s: expected Q%d, got Q%d", date, want, got)
		}
	}
}

func TestReportingPeriodRejectsBadDate(t *testing.T) {
	if _, err := model.NewReportingPeriod("1", "2024-03-31"); err == nil {
		t.Error("expected error for ISO date")
	}
}

// ─── Download Requests ────────────────────────────────────────────────────────

func TestExpectedFilename(t *testing.T) {
	period := mustPeriod(t, "146", "03/31/2024")
	cases := []struct {
		product model.Product
		format  model.FileFormat
		want    string
	}{
		{model.CallSingle, model.XBRL, "FFIEC CDR Call Bulk XBRL 03312024.zip"},
		{model.CallSingle, model.TSV, "FFIEC CDR Call Bulk TSV 03312024.zip"},
		{model.CallFourPeriods, model.TSV, "FFIEC CDR Call Bulk Subset of Schedules TSV 03312024.zip"},
		{model.UBPRRatioSingle, model.XBRL, "FFIEC CDR UBPR Ratio  Single Period XBRL 03312024.zip"},
	}
	for _, c := range cases {
		req := model.DownloadRequest{Product: c.product, Period: period, Format: c.format}
		if got := req.ExpectedFilename(); got != c.want {
			t.Errorf("%s/%s:\n  expected %q\n  got      %q", c.product, c.format, c.want, got)
		}
	}
}

func TestDownloadResultJSONOmitsContent(t *testing.T) {
	r := model.DownloadResult{Success: true, Filename: "a.zip", Content: []byte("PK")}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "content") {
		t.Errorf("content should not be serialised: %s", b)
	}
}
