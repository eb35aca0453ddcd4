// Package query assembles the read-model responses behind GET /traces,
// GET /traces/{id}, and GET /traces/stats/overview, grounded on the original
// source's services/trace_service.py (list_traces/get_trace_detail).
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/storage"
)

type Service struct {
	db *storage.DB
}

func New(db *storage.DB) *Service {
	return &Service{db: db}
}

// ListTraces returns one filtered/paginated page of traces.
func (s *Service) ListTraces(ctx context.Context, projectID uuid.UUID, f model.TraceFilters) (model.TraceListResponse, error) {
	if err := f.Validate(); err != nil {
		return model.TraceListResponse{}, err
	}
	traces, total, err := s.db.ListTraces(ctx, projectID, f)
	if err != nil {
		return model.TraceListResponse{}, err
	}
	items := make([]model.TraceListItem, len(traces))
	for i, t := range traces {
		items[i] = model.TraceListItem{Trace: t}
	}
	return model.TraceListResponse{Items: items, Page: f.Page, PageSize: f.PageSize, Total: total}, nil
}

// GetTraceDetail assembles the trace plus its spans, timeline, evaluations,
// decision history, and judge runs. The five underlying queries are
// independent reads, so they fan out with errgroup rather than running
// sequentially (SPEC_FULL.md §4.8's implementation note).
func (s *Service) GetTraceDetail(ctx context.Context, projectID, traceID uuid.UUID) (model.TraceDetail, error) {
	trace, err := s.db.GetTraceByID(ctx, projectID, traceID)
	if err != nil {
		return model.TraceDetail{}, err
	}

	var spans []model.Span
	var events []model.SpanEvent
	var evaluations []model.Evaluation
	var decisions []model.TraceDecision
	var judgeRuns []model.JudgeRun

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { spans, err = s.db.ListSpansByTrace(gctx, projectID, traceID); return })
	g.Go(func() (err error) { events, err = s.db.ListEventsByTrace(gctx, projectID, traceID); return })
	g.Go(func() (err error) { evaluations, err = s.db.ListEvaluationsByTrace(gctx, projectID, traceID); return })
	g.Go(func() (err error) { decisions, err = s.db.ListTraceDecisionsByTrace(gctx, projectID, traceID); return })
	g.Go(func() (err error) {
		judgeRuns, err = s.db.ListRecentJudgeRunsByTrace(gctx, projectID, traceID, 5)
		return
	})
	if err := g.Wait(); err != nil {
		return model.TraceDetail{}, fmt.Errorf("query: assemble trace detail: %w", err)
	}

	return model.TraceDetail{
		Trace:           trace,
		Spans:           spans,
		Timeline:        buildTimeline(trace, events),
		Evaluations:     evaluations,
		DecisionHistory: decisions,
		JudgeRuns:       judgeRuns,
	}, nil
}

// buildTimeline merges a synthetic TRACE_STARTED entry, every SpanEvent, and
// a synthetic TRACE_ENDED entry (if the trace has ended) into one
// chronologically sorted list.
func buildTimeline(trace model.Trace, events []model.SpanEvent) []model.TimelineEntry {
	timeline := make([]model.TimelineEntry, 0, len(events)+2)
	timeline = append(timeline, model.TimelineEntry{
		Timestamp: trace.StartTime,
		Source:    "trace",
		SourceID:  &trace.ID,
		EventType: "TRACE_STARTED",
	})
	for _, e := range events {
		timeline = append(timeline, model.TimelineEntry{
			Timestamp: e.EventTime,
			Source:    "span",
			SourceID:  e.SpanID,
			EventType: string(e.EventType),
			Payload:   e.Payload,
		})
	}
	if trace.EndTime != nil {
		timeline = append(timeline, model.TimelineEntry{
			Timestamp: *trace.EndTime,
			Source:    "trace",
			SourceID:  &trace.ID,
			EventType: "TRACE_ENDED",
		})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})
	return timeline
}

// StatsOverview returns a by-status trace count over the last lastHours.
func (s *Service) StatsOverview(ctx context.Context, projectID uuid.UUID, lastHours int) (model.StatsOverview, error) {
	byStatus, err := s.db.StatsOverview(ctx, projectID, lastHours)
	if err != nil {
		return model.StatsOverview{}, err
	}
	return model.StatsOverview{LastHours: lastHours, ByStatus: byStatus}, nil
}
