package edgar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const tickersJSON = `{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."},"1":{"cik_str":1652044,"ticker":"GOOGL","title":"Alphabet Inc."}}`

const submissionsJSON = `{"cik":"320193","name":"Apple Inc.","filings":{"recent":{
"form":["8-K","10-Q","10-K"],
"accessionNumber":["0000320193-25-000001","0000320193-25-000002","0000320193-24-000123"],
"filingDate":["2025-02-01","2025-01-31","2024-11-01"],
"reportDate":["","2024-12-28","2024-09-28"],
"primaryDocument":["a8k.htm","a10q.htm","aapl-20240928.htm"]}}}`

func newTestServer(t *testing.T, ua *atomic.Value) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Write([]byte(tickersJSON))
	})
	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(submissionsJSON))
	})
	mux.HandleFunc("/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><style>p{}</style></head><body><p>Total net sales</p><div>were  <b>$391</b> billion.</div><script>x()</script></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Identity:          "Test Analyst test@example.com",
		WWWBase:           base,
		DataBase:          base,
		RequestsPerSecond: 1000,
		Logger:            testLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresIdentity(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error without identity")
	}
}

func TestClient_ResolveAndIdentity(t *testing.T) {
	var ua atomic.Value
	srv := newTestServer(t, &ua)
	c := newTestClient(t, srv.URL)

	for _, id := range []string{"aapl", "320193", "0000320193", "Apple Inc."} {
		co, ok, err := c.Resolve(context.Background(), id)
		if err != nil || !ok {
			t.Fatalf("Resolve(%q): ok=%v err=%v", id, ok, err)
		}
		if co.CIK != 320193 {
			t.Errorf("Resolve(%q): unexpected CIK %d", id, co.CIK)
		}
	}
	if _, ok, _ := c.Resolve(context.Background(), "MSFT"); ok {
		t.Error("expected MSFT to be unknown")
	}
	if got := ua.Load(); got != "Test Analyst test@example.com" {
		t.Errorf("expected identity as User-Agent, got %v", got)
	}
}

func TestClient_LatestFiling(t *testing.T) {
	var ua atomic.Value
	c := newTestClient(t, newTestServer(t, &ua).URL)

	f, err := c.LatestFiling(context.Background(), 320193, "10-k")
	if err != nil {
		t.Fatalf("LatestFiling: %v", err)
	}
	if f == nil || f.AccessionNumber != "0000320193-24-000123" || f.ReportDate != "2024-09-28" {
		t.Fatalf("unexpected filing: %+v", f)
	}

	f, err = c.LatestFiling(context.Background(), 320193, "20-F")
	if err != nil || f != nil {
		t.Errorf("expected no 20-F, got %+v err=%v", f, err)
	}
}

func TestClient_Document(t *testing.T) {
	var ua atomic.Value
	c := newTestClient(t, newTestServer(t, &ua).URL)

	text, err := c.Document(context.Background(), 320193, &Filing{
		AccessionNumber: "0000320193-24-000123",
		PrimaryDocument: "aapl-20240928.htm",
	})
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if text != "Total net sales\nwere $391 billion." {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, _, err := c.Resolve(context.Background(), "AAPL")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected StatusError 403, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status in message: %v", err)
	}
}

func TestFetcher_WithClient(t *testing.T) {
	var ua atomic.Value
	c := newTestClient(t, newTestServer(t, &ua).URL)
	res := NewFetcher(c, 0, testLogger()).FetchFiling(context.Background(), "AAPL", "10-K")
	if !strings.Contains(res.Body, "Total net sales") {
		t.Errorf("unexpected body: %q", res.Body)
	}
}
