package tool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"seccopilot/internal/domain"
	"seccopilot/internal/transcripts"
)

// TranscriptSource serves earnings call transcripts.
type TranscriptSource interface {
	Latest(ctx context.Context, ticker string) domain.TranscriptResult
	Specific(ctx context.Context, ticker string, year, quarter int) (domain.TranscriptResult, error)
}

type TranscriptInput struct {
	Ticker  string  `json:"ticker" jsonschema_description:"Stock ticker symbol, e.g. AAPL."`
	Year    flexInt `json:"year,omitempty" jsonschema_description:"Fiscal year. Omit together with quarter for the latest transcript."`
	Quarter flexInt `json:"quarter,omitempty" jsonschema_description:"Fiscal quarter, 1 to 4."`
	Input   string  `json:"input,omitempty" jsonschema_description:"Legacy form 'TICKER' or 'TICKER,YEAR,QUARTER' (e.g. 'AAPL,2024,1'). Only used when ticker is empty."`
}

const (
	msgBadNumbers = "Invalid input format. Year and quarter must be integers."
	msgBadFormat  = "Invalid input format. Use 'TICKER' for latest or 'TICKER,YEAR,QUARTER' for specific transcript."
)

// TranscriptTool returns an earnings call transcript, latest or specific.
type TranscriptTool struct {
	source   TranscriptSource
	maxChars int
	schema   map[string]any
}

var _ domain.Tool = (*TranscriptTool)(nil)

func NewTranscriptTool(src TranscriptSource, maxChars int) *TranscriptTool {
	return &TranscriptTool{source: src, maxChars: maxChars, schema: GenerateSchema[TranscriptInput]()}
}

func (t *TranscriptTool) Name() string { return "get_earnings_call_transcript" }

func (t *TranscriptTool) Description() string {
	return "Returns a company's earnings call transcript. " +
		"Give only the ticker for the latest transcript (e.g. 'AAPL'), " +
		"or ticker, year and quarter for a specific one (e.g. 'AAPL', 2024, 1 for the first quarter of 2024)."
}

func (t *TranscriptTool) Parameters() map[string]any { return t.schema }

func (t *TranscriptTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in TranscriptInput
	if err := decodeArgs(args, &in); err != nil {
		return msgBadNumbers, nil
	}
	ticker := strings.TrimSpace(in.Ticker)
	year, quarter := int(in.Year), int(in.Quarter)

	if ticker == "" && in.Input != "" {
		parts := strings.Split(in.Input, ",")
		ticker = strings.TrimSpace(parts[0])
		switch len(parts) {
		case 1:
			year, quarter = 0, 0
		case 3:
			y, yerr := strconv.Atoi(strings.TrimSpace(parts[1]))
			q, qerr := strconv.Atoi(strings.TrimSpace(parts[2]))
			if yerr != nil || qerr != nil {
				return msgBadNumbers, nil
			}
			year, quarter = y, q
		default:
			return msgBadFormat, nil
		}
	}
	if ticker == "" {
		return msgBadFormat, nil
	}

	if year == 0 && quarter == 0 {
		return transcripts.Format(t.source.Latest(ctx, ticker), t.maxChars), nil
	}
	res, err := t.source.Specific(ctx, ticker, year, quarter)
	if errors.Is(err, transcripts.ErrInvalidQuarter) {
		return msgBadNumbers, nil
	}
	if err != nil {
		return "", fmt.Errorf("transcript %s %d Q%d: %w", ticker, year, quarter, err)
	}
	return transcripts.Format(res, t.maxChars), nil
}
