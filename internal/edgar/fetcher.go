package edgar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"seccopilot/internal/domain"
	"seccopilot/internal/metrics"
)

// Upstream is the subset of Client the fetcher needs.
type Upstream interface {
	Resolve(ctx context.Context, id string) (Company, bool, error)
	LatestFiling(ctx context.Context, cik int64, form string) (*Filing, error)
	Document(ctx context.Context, cik int64, f *Filing) (string, error)
}

// Fetcher turns EDGAR lookups into assistant-readable results. It never
// returns an error: upstream faults become StatusError results.
type Fetcher struct {
	up       Upstream
	maxChars int
	logger   *slog.Logger
}

func NewFetcher(up Upstream, maxChars int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{up: up, maxChars: maxChars, logger: logger}
}

// FetchFiling returns the most recent filing of reportType for companyID.
func (f *Fetcher) FetchFiling(ctx context.Context, companyID, reportType string) domain.FilingResult {
	notFound := domain.FilingResult{
		Status: domain.StatusNotFound,
		Body:   fmt.Sprintf("Company '%s' not found in EDGAR database.", companyID),
	}
	if strings.TrimSpace(companyID) == "" {
		return notFound
	}

	co, ok, err := f.up.Resolve(ctx, companyID)
	if err != nil {
		return f.fault(companyID, reportType, err)
	}
	if !ok {
		return notFound
	}

	noFilings := domain.FilingResult{
		Status: domain.StatusNotFound,
		Body:   fmt.Sprintf("No %s filings found for %s.", reportType, companyID),
	}
	filing, err := f.up.LatestFiling(ctx, co.CIK, reportType)
	if err != nil {
		return f.fault(companyID, reportType, err)
	}
	if filing == nil {
		return noFilings
	}

	text, err := f.up.Document(ctx, co.CIK, filing)
	if err != nil {
		return f.fault(companyID, reportType, err)
	}
	if strings.TrimSpace(text) == "" {
		return noFilings
	}

	return domain.FilingResult{Status: domain.StatusOK, Body: f.render(co, filing, text)}
}

func (f *Fetcher) fault(companyID, reportType string, err error) domain.FilingResult {
	metrics.UpstreamFaults("edgar").Inc()
	f.logger.Warn("edgar fetch failed", "company", companyID, "form", reportType, "err", err)
	return domain.FilingResult{
		Status: domain.StatusError,
		Body:   fmt.Sprintf("An error occurred while fetching the report: %s", err.Error()),
	}
}

func (f *Fetcher) render(co Company, filing *Filing, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s) %s\n\n", co.Title, co.Ticker, filing.Form)
	fmt.Fprintf(&b, "- Filed: %s\n", filing.FilingDate)
	if filing.ReportDate != "" {
		fmt.Fprintf(&b, "- Period: %s\n", filing.ReportDate)
	}
	fmt.Fprintf(&b, "- Accession: %s\n\n", filing.AccessionNumber)

	if f.maxChars > 0 {
		if r := []rune(text); len(r) > f.maxChars {
			text = string(r[:f.maxChars]) + "\n\n[truncated]"
		}
	}
	b.WriteString(text)
	return b.String()
}
