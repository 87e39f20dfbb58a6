package domain

type FetchStatus string

const (
	StatusOK       FetchStatus = "ok"
	StatusNotFound FetchStatus = "not_found"
	StatusError    FetchStatus = "error"
)

// FilingResult is what the filing fetcher reports back to the assistant.
type FilingResult struct {
	Status FetchStatus `json:"status"`
	Body   string      `json:"body"`
}

// TranscriptResult is the outcome of a transcript lookup. An empty body
// with StatusNotFound covers both "no transcript" and swallowed faults.
type TranscriptResult struct {
	Status  FetchStatus `json:"status"`
	Ticker  string      `json:"ticker"`
	Year    int         `json:"year,omitempty"`
	Quarter int         `json:"quarter,omitempty"`
	Date    string      `json:"date,omitempty"`
	Body    string      `json:"body"`
}
