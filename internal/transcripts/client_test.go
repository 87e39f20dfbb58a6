package transcripts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"seccopilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newServer(t *testing.T, hits *atomic.Int32, list, transcript string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/transcript/list/":
			w.Write([]byte(list))
		case "/api/transcript/":
			if r.URL.Query().Get("quarter") != "Q1" || r.URL.Query().Get("year") != "2024" {
				w.Write([]byte(`[]`))
				return
			}
			w.Write([]byte(transcript))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const aaplQ1 = `[{"symbol":"AAPL","quarter":1,"year":2024,"date":"2024-02-01 17:00:00","content":"Good afternoon, everyone."}]`

func TestSpecific_InvalidQuarter_NoNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits, `[]`, aaplQ1)
	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Logger: testLogger()})

	for _, q := range []int{0, 5, -1} {
		_, err := c.Specific(context.Background(), "AAPL", 2024, q)
		if !errors.Is(err, ErrInvalidQuarter) {
			t.Errorf("quarter %d: expected ErrInvalidQuarter, got %v", q, err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, got %d", hits.Load())
	}
}

func TestSpecific_Found(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(ClientConfig{BaseURL: newServer(t, &hits, `[]`, aaplQ1).URL, APIKey: "k", Logger: testLogger()})

	res, err := c.Specific(context.Background(), "AAPL", 2024, 1)
	if err != nil {
		t.Fatalf("Specific: %v", err)
	}
	if res.Status != domain.StatusOK || res.Body != "Good afternoon, everyone." || res.Quarter != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSpecific_Empty(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(ClientConfig{BaseURL: newServer(t, &hits, `[]`, aaplQ1).URL, APIKey: "k", Logger: testLogger()})

	res, err := c.Specific(context.Background(), "AAPL", 2019, 3)
	if err != nil {
		t.Fatalf("Specific: %v", err)
	}
	if res.Status != domain.StatusNotFound || res.Body != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestSpecific_FaultSwallowed(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(ClientConfig{BaseURL: newServer(t, &hits, `[]`, aaplQ1).URL, APIKey: "wrong", Logger: testLogger()})

	res, err := c.Specific(context.Background(), "AAPL", 2024, 1)
	if err != nil {
		t.Fatalf("faults must not be returned: %v", err)
	}
	if res.Status != domain.StatusNotFound {
		t.Errorf("expected not_found, got %s", res.Status)
	}
}

func TestLatest_UsesFirstListed(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits, `[[1,2024,"abc"],[4,2023,"def"]]`, aaplQ1)
	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Logger: testLogger()})

	res := c.Latest(context.Background(), "AAPL")
	if res.Status != domain.StatusOK || res.Year != 2024 {
		t.Errorf("unexpected result: %+v", res)
	}
	if hits.Load() != 2 {
		t.Errorf("expected list + fetch requests, got %d", hits.Load())
	}
}

func TestLatest_NoneAvailable(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(ClientConfig{BaseURL: newServer(t, &hits, `[]`, aaplQ1).URL, APIKey: "k", Logger: testLogger()})

	res := c.Latest(context.Background(), "AAPL")
	if res.Status != domain.StatusNotFound {
		t.Errorf("expected not_found, got %+v", res)
	}
	if hits.Load() != 1 {
		t.Errorf("expected only the list request, got %d", hits.Load())
	}
}

func TestLatest_BadJSON(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(ClientConfig{BaseURL: newServer(t, &hits, `not json`, aaplQ1).URL, APIKey: "k", Logger: testLogger()})
	if res := c.Latest(context.Background(), "AAPL"); res.Status != domain.StatusNotFound {
		t.Errorf("expected not_found, got %+v", res)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(domain.TranscriptResult{Status: domain.StatusNotFound}, 0); got != "{}" {
		t.Errorf("expected {} for empty result, got %q", got)
	}
	got := Format(domain.TranscriptResult{Status: domain.StatusOK, Ticker: "AAPL", Quarter: 1, Year: 2024, Body: "abcdef"}, 3)
	if !strings.Contains(got, "Quarter: 1") || !strings.HasSuffix(got, "abc\n\n[truncated]") {
		t.Errorf("unexpected format: %q", got)
	}
}
