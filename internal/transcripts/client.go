// Package transcripts reads earnings call transcripts from the
// discountingcashflows.com API.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"seccopilot/internal/domain"
	"seccopilot/internal/metrics"
)

// ErrInvalidQuarter is returned by Specific when quarter is outside 1..4.
var ErrInvalidQuarter = errors.New("quarter must be between 1 and 4")

// Listing is one entry of the transcript index.
type Listing struct {
	Quarter int
	Year    int
	ID      string
}

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base   string
	key    string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://discountingcashflows.com"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		key:    cfg.APIKey,
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	q.Set("key", c.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	return data, nil
}

// Available lists the transcripts the API has for ticker, newest first.
// Faults are logged and yield an empty list.
func (c *Client) Available(ctx context.Context, ticker string) []Listing {
	data, err := c.get(ctx, "/api/transcript/list/", url.Values{"ticker": {ticker}})
	if err != nil {
		metrics.UpstreamFaults("transcripts").Inc()
		c.logger.Warn("list transcripts failed", "ticker", ticker, "err", err)
		return nil
	}
	var out []Listing
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		tuple := v.Array()
		if len(tuple) < 2 {
			return true
		}
		a := Listing{Quarter: int(tuple[0].Int()), Year: int(tuple[1].Int())}
		if len(tuple) > 2 {
			a.ID = tuple[2].String()
		}
		out = append(out, a)
		return true
	})
	return out
}

// Latest returns the newest transcript for ticker. Faults degrade to an
// empty not_found result.
func (c *Client) Latest(ctx context.Context, ticker string) domain.TranscriptResult {
	avail := c.Available(ctx, ticker)
	if len(avail) == 0 {
		return empty(ticker)
	}
	return c.fetch(ctx, ticker, avail[0].Year, avail[0].Quarter)
}

// Specific returns the transcript for one fiscal quarter. An out-of-range
// quarter is rejected before any network call; other faults degrade to an
// empty not_found result.
func (c *Client) Specific(ctx context.Context, ticker string, year, quarter int) (domain.TranscriptResult, error) {
	if quarter < 1 || quarter > 4 {
		return domain.TranscriptResult{}, ErrInvalidQuarter
	}
	return c.fetch(ctx, ticker, year, quarter), nil
}

func (c *Client) fetch(ctx context.Context, ticker string, year, quarter int) domain.TranscriptResult {
	data, err := c.get(ctx, "/api/transcript/", url.Values{
		"ticker":  {ticker},
		"quarter": {fmt.Sprintf("Q%d", quarter)},
		"year":    {fmt.Sprint(year)},
	})
	if err != nil {
		metrics.UpstreamFaults("transcripts").Inc()
		c.logger.Warn("fetch transcript failed", "ticker", ticker, "year", year, "quarter", quarter, "err", err)
		return empty(ticker)
	}
	first := gjson.GetBytes(data, "0")
	if !first.Exists() {
		return empty(ticker)
	}
	res := domain.TranscriptResult{
		Status:  domain.StatusOK,
		Ticker:  first.Get("symbol").String(),
		Year:    int(first.Get("year").Int()),
		Quarter: int(first.Get("quarter").Int()),
		Date:    first.Get("date").String(),
		Body:    first.Get("content").String(),
	}
	if res.Ticker == "" {
		res.Ticker = ticker
	}
	if strings.TrimSpace(res.Body) == "" {
		res.Status = domain.StatusNotFound
	}
	return res
}

func empty(ticker string) domain.TranscriptResult {
	return domain.TranscriptResult{Status: domain.StatusNotFound, Ticker: ticker}
}

// Format renders a transcript result for the assistant, clipped to
// maxChars runes when maxChars > 0.
func Format(r domain.TranscriptResult, maxChars int) string {
	if r.Status != domain.StatusOK {
		return "{}"
	}
	body := r.Body
	if maxChars > 0 {
		if runes := []rune(body); len(runes) > maxChars {
			body = string(runes[:maxChars]) + "\n\n[truncated]"
		}
	}
	return fmt.Sprintf("Symbol: %s\nQuarter: %d\nYear: %d\nDate: %s\n\n%s", r.Ticker, r.Quarter, r.Year, r.Date, body)
}
