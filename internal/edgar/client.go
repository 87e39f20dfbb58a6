// Package edgar fetches company filings from the SEC EDGAR system.
package edgar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Company is an EDGAR registrant.
type Company struct {
	CIK    int64
	Ticker string
	Title  string
}

// Filing is one entry of a registrant's filing index.
type Filing struct {
	Form            string
	AccessionNumber string
	FilingDate      string
	ReportDate      string
	PrimaryDocument string
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

type ClientConfig struct {
	Identity          string // "Name email", sent as User-Agent
	WWWBase           string
	DataBase          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client is an EDGAR HTTP client bound to one requester identity.
type Client struct {
	identity string
	wwwBase  string
	dataBase string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	tickers []Company
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, fmt.Errorf("edgar: requester identity is required")
	}
	if cfg.WWWBase == "" {
		cfg.WWWBase = "https://www.sec.gov"
	}
	if cfg.DataBase == "" {
		cfg.DataBase = "https://data.sec.gov"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		identity: cfg.Identity,
		wwwBase:  strings.TrimRight(cfg.WWWBase, "/"),
		dataBase: strings.TrimRight(cfg.DataBase, "/"),
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:   cfg.Logger,
	}, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.identity)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("edgar request", "url", url, "status", resp.StatusCode, "ms", time.Since(start).Milliseconds())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// Resolve maps a ticker, CIK or exact company title to a registrant. The
// second return is false when nothing matches.
func (c *Client) Resolve(ctx context.Context, id string) (Company, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Company{}, false, nil
	}
	companies, err := c.loadTickers(ctx)
	if err != nil {
		return Company{}, false, fmt.Errorf("load company tickers: %w", err)
	}

	cik, cikErr := strconv.ParseInt(strings.TrimLeft(id, "0"), 10, 64)
	isCIK := cikErr == nil
	for _, co := range companies {
		switch {
		case strings.EqualFold(co.Ticker, id):
			return co, true, nil
		case isCIK && co.CIK == cik:
			return co, true, nil
		case strings.EqualFold(co.Title, id):
			return co, true, nil
		}
	}
	return Company{}, false, nil
}

func (c *Client) loadTickers(ctx context.Context) ([]Company, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tickers != nil {
		return c.tickers, nil
	}

	data, err := c.get(ctx, c.wwwBase+"/files/company_tickers.json")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("company tickers: invalid JSON")
	}
	var out []Company
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		out = append(out, Company{
			CIK:    v.Get("cik_str").Int(),
			Ticker: v.Get("ticker").String(),
			Title:  v.Get("title").String(),
		})
		return true
	})
	c.tickers = out
	return out, nil
}

// LatestFiling returns the most recent filing of the given form, or nil if
// the registrant has none in its recent index.
func (c *Client) LatestFiling(ctx context.Context, cik int64, form string) (*Filing, error) {
	url := fmt.Sprintf("%s/submissions/CIK%010d.json", c.dataBase, cik)
	data, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("submissions CIK%010d: invalid JSON", cik)
	}

	recent := gjson.GetBytes(data, "filings.recent")
	forms := recent.Get("form").Array()
	accessions := recent.Get("accessionNumber").Array()
	dates := recent.Get("filingDate").Array()
	reportDates := recent.Get("reportDate").Array()
	docs := recent.Get("primaryDocument").Array()

	// The recent index is ordered newest first.
	for i, f := range forms {
		if !strings.EqualFold(f.String(), form) {
			continue
		}
		if i >= len(accessions) || i >= len(docs) {
			return nil, fmt.Errorf("submissions CIK%010d: truncated filing index", cik)
		}
		filing := &Filing{
			Form:            f.String(),
			AccessionNumber: accessions[i].String(),
			PrimaryDocument: docs[i].String(),
		}
		if i < len(dates) {
			filing.FilingDate = dates[i].String()
		}
		if i < len(reportDates) {
			filing.ReportDate = reportDates[i].String()
		}
		return filing, nil
	}
	return nil, nil
}

// Document downloads a filing's primary document and renders it as text.
func (c *Client) Document(ctx context.Context, cik int64, f *Filing) (string, error) {
	url := fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s",
		c.wwwBase, cik, strings.ReplaceAll(f.AccessionNumber, "-", ""), f.PrimaryDocument)
	data, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	return HTMLToText(bytes.NewReader(data))
}
