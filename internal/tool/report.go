package tool

import (
	"context"
	"strings"

	"seccopilot/internal/domain"
)

// FilingFetcher looks up the latest filing of a form type.
type FilingFetcher interface {
	FetchFiling(ctx context.Context, companyID, reportType string) domain.FilingResult
}

type CompanyReportInput struct {
	Company    string `json:"company" jsonschema_description:"Ticker symbol, CIK or exact company name, e.g. AAPL."`
	ReportType string `json:"report_type" jsonschema_description:"SEC form type, e.g. 10-K, 10-Q, 8-K, 20-F."`
	Input      string `json:"input,omitempty" jsonschema_description:"Legacy form 'TICKER,REPORT_TYPE' (e.g. 'AAPL,10-K' or 'GOOGL,10-Q'). Only used when company is empty."`
}

// CompanyReportTool returns a company's latest SEC filing of a given type.
type CompanyReportTool struct {
	fetcher FilingFetcher
	schema  map[string]any
}

var _ domain.Tool = (*CompanyReportTool)(nil)

func NewCompanyReportTool(f FilingFetcher) *CompanyReportTool {
	return &CompanyReportTool{fetcher: f, schema: GenerateSchema[CompanyReportInput]()}
}

func (t *CompanyReportTool) Name() string { return "get_company_report" }

func (t *CompanyReportTool) Description() string {
	return "Returns a company's latest report from SEC EDGAR. " +
		"Provide the company ticker and the report type, e.g. company 'AAPL' with report_type '10-K', " +
		"or 'GOOGL' with '10-Q'."
}

func (t *CompanyReportTool) Parameters() map[string]any { return t.schema }

func (t *CompanyReportTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in CompanyReportInput
	if err := decodeArgs(args, &in); err != nil {
		return "Invalid input format. Use 'TICKER,REPORT_TYPE' (e.g. 'AAPL,10-K').", nil
	}
	company, reportType := strings.TrimSpace(in.Company), strings.TrimSpace(in.ReportType)
	if company == "" && in.Input != "" {
		parts := strings.Split(in.Input, ",")
		if len(parts) != 2 {
			return "Invalid input format. Use 'TICKER,REPORT_TYPE' (e.g. 'AAPL,10-K').", nil
		}
		company, reportType = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return t.fetcher.FetchFiling(ctx, company, reportType).Body, nil
}
