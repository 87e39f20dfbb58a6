package tool

import (
	"context"
	"strings"
	"testing"

	"seccopilot/internal/domain"
	"seccopilot/internal/transcripts"
)

type recordingFetcher struct {
	company, reportType string
}

func (f *recordingFetcher) FetchFiling(_ context.Context, company, reportType string) domain.FilingResult {
	f.company, f.reportType = company, reportType
	return domain.FilingResult{Status: domain.StatusOK, Body: "report for " + company + " " + reportType}
}

type recordingSource struct {
	latest   int
	specific int
	year     int
	quarter  int
}

func (s *recordingSource) Latest(_ context.Context, ticker string) domain.TranscriptResult {
	s.latest++
	return domain.TranscriptResult{Status: domain.StatusOK, Ticker: ticker, Year: 2025, Quarter: 2, Body: "latest call"}
}

func (s *recordingSource) Specific(_ context.Context, ticker string, year, quarter int) (domain.TranscriptResult, error) {
	if quarter < 1 || quarter > 4 {
		return domain.TranscriptResult{}, transcripts.ErrInvalidQuarter
	}
	s.specific++
	s.year, s.quarter = year, quarter
	return domain.TranscriptResult{Status: domain.StatusOK, Ticker: ticker, Year: year, Quarter: quarter, Body: "specific call"}, nil
}

func TestCompanyReportTool_Structured(t *testing.T) {
	f := &recordingFetcher{}
	out, err := NewCompanyReportTool(f).Execute(context.Background(), map[string]any{"company": "AAPL", "report_type": "10-K"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "report for AAPL 10-K" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCompanyReportTool_LegacyInput(t *testing.T) {
	f := &recordingFetcher{}
	tool := NewCompanyReportTool(f)
	if _, err := tool.Execute(context.Background(), map[string]any{"input": "GOOGL, 10-Q"}); err != nil {
		t.Fatal(err)
	}
	if f.company != "GOOGL" || f.reportType != "10-Q" {
		t.Errorf("unexpected parse: %q %q", f.company, f.reportType)
	}

	out, _ := tool.Execute(context.Background(), map[string]any{"input": "GOOGL"})
	if !strings.HasPrefix(out, "Invalid input format.") {
		t.Errorf("expected format error, got %q", out)
	}
}

func TestCompanyReportTool_Schema(t *testing.T) {
	schema := NewCompanyReportTool(&recordingFetcher{}).Parameters()
	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %T", schema["properties"])
	}
	for _, name := range []string{"company", "report_type", "input"} {
		if _, ok := props[name]; !ok {
			t.Errorf("missing property %s", name)
		}
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("expected $schema to be stripped")
	}
}

func TestTranscriptTool_Latest(t *testing.T) {
	src := &recordingSource{}
	out, err := NewTranscriptTool(src, 0).Execute(context.Background(), map[string]any{"ticker": "AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if src.latest != 1 || !strings.Contains(out, "latest call") {
		t.Errorf("expected latest lookup, got %q", out)
	}
}

func TestTranscriptTool_SpecificWithStringNumbers(t *testing.T) {
	src := &recordingSource{}
	_, err := NewTranscriptTool(src, 0).Execute(context.Background(), map[string]any{"ticker": "AAPL", "year": "2024", "quarter": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if src.year != 2024 || src.quarter != 1 {
		t.Errorf("unexpected args %d Q%d", src.year, src.quarter)
	}
}

func TestTranscriptTool_LegacyInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"AAPL", "latest call"},
		{"AAPL,2024,1", "specific call"},
		{"AAPL,2024,x", "Invalid input format. Year and quarter must be integers."},
		{"AAPL,2024,7", "Invalid input format. Year and quarter must be integers."},
		{"AAPL,2024", "Invalid input format. Use 'TICKER' for latest or 'TICKER,YEAR,QUARTER' for specific transcript."},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, err := NewTranscriptTool(&recordingSource{}, 0).Execute(context.Background(), map[string]any{"input": tt.input})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, out)
			}
		})
	}
}

func TestTranscriptTool_NonNumericYear(t *testing.T) {
	out, _ := NewTranscriptTool(&recordingSource{}, 0).Execute(context.Background(), map[string]any{"ticker": "AAPL", "year": "last", "quarter": 1})
	if out != msgBadNumbers {
		t.Errorf("expected numbers error, got %q", out)
	}
}
