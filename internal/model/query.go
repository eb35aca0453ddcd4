package model

import (
	"time"

	"github.com/google/uuid"
)

// TraceFilters is the set of filters accepted by GET /traces. Grounded on
// akashi's internal/model/query.go QueryFilters shape, narrowed to the
// fields SPEC_FULL.md §4.8 names.
type TraceFilters struct {
	Page        int
	PageSize    int
	StartFrom   *time.Time
	StartTo     *time.Time
	Status      *TraceStatus
	Tag         *string // JSON key-existence check against Trace.attributes
	Model       *string
	Environment *string
	UserID      *string
	SessionID   *string
	Search      *string // case-insensitive substring over input/output text + event payloads
}

// Validate applies the pagination bounds from SPEC_FULL.md §6.
func (f *TraceFilters) Validate() error {
	if f.Page < 1 {
		return ValidationError("page must be >= 1")
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		return ValidationError("page_size must be in [1,100]")
	}
	return nil
}

// TraceListItem is one row of a paginated trace listing.
type TraceListItem struct {
	Trace
}

// TraceListResponse is the GET /traces success payload.
type TraceListResponse struct {
	Items    []TraceListItem `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

// TraceDetail is the GET /traces/{id} success payload.
type TraceDetail struct {
	Trace            Trace           `json:"trace"`
	Spans            []Span          `json:"spans"`
	Timeline         []TimelineEntry `json:"timeline"`
	Evaluations      []Evaluation    `json:"evaluations"`
	DecisionHistory  []TraceDecision `json:"decision_history"`
	JudgeRuns        []JudgeRun      `json:"judge_runs"`
}

// StatsOverview is the GET /traces/stats/overview success payload.
type StatsOverview struct {
	LastHours int            `json:"last_hours"`
	ByStatus  map[string]int `json:"by_status"`
}

// ValidateIdempotencyKey enforces the 3-255 char constraint from
// SPEC_FULL.md §6.
func ValidateIdempotencyKey(key string) error {
	if len(key) < 3 || len(key) > 255 {
		return ValidationError("idempotency_key must be 3-255 characters")
	}
	return nil
}

// mustUUID parses s as a UUID and panics if it is malformed. Nothing in the
// module calls it at present.
func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}
