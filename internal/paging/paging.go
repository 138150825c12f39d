// Package paging accumulates OData pages by following next links, bounded by
// the reported total count and an iteration ceiling.
package paging

import (
	"context"
	"encoding/json"

	"github.com/yourorg/listings-proxy/ddf"
)

// DefaultMaxIterations is the page ceiling for exhaustive fetches.
const DefaultMaxIterations = 5

// Exit is why a Loop stopped. Running means it has not.
type Exit int

const (
	Running Exit = iota
	ExitNoNextLink
	ExitCountReached
	ExitIterationCeiling
	ExitPageError
)

func (e Exit) String() string {
	switch e {
	case Running:
		return "running"
	case ExitNoNextLink:
		return "no_next_link"
	case ExitCountReached:
		return "count_reached"
	case ExitIterationCeiling:
		return "iteration_ceiling"
	case ExitPageError:
		return "page_error"
	default:
		return "unknown"
	}
}

// Loop is the state of one exhaustive fetch.
type Loop struct {
	MaxIterations int
	Iterations    int
	Records       []json.RawMessage
	// Total is the @odata.count reported on the first page, if any.
	Total *int
	Next  string
	Exit  Exit
	// Partial is set when a page after the first failed.
	Partial *ddf.PartialResultError
}

func NewLoop(maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{MaxIterations: maxIterations}
}

// Accept folds p into the loop and reports whether to stop.
func (l *Loop) Accept(p ddf.Page) Exit {
	l.Iterations++
	l.Records = append(l.Records, p.Records...)
	if l.Iterations == 1 && p.Count != nil {
		total := *p.Count
		l.Total = &total
	}
	l.Next = p.NextLink

	switch {
	case l.Next == "":
		l.Exit = ExitNoNextLink
	case l.Total != nil && len(l.Records) >= *l.Total:
		l.Exit = ExitCountReached
	case l.Iterations >= l.MaxIterations:
		l.Exit = ExitIterationCeiling
	}
	return l.Exit
}

// Fail stops the loop keeping what was accumulated.
func (l *Loop) Fail(err error) {
	l.Exit = ExitPageError
	l.Partial = &ddf.PartialResultError{Page: l.Iterations + 1, Fetched: len(l.Records), Err: err}
}

// Collect runs a loop to completion. An error from first is returned as is;
// errors from next end the loop with ExitPageError and a nil error.
func Collect(
	ctx context.Context,
	maxIterations int,
	first func(context.Context) (ddf.Page, error),
	next func(ctx context.Context, link string) (ddf.Page, error),
) (*Loop, error) {
	l := NewLoop(maxIterations)
	page, err := first(ctx)
	if err != nil {
		return nil, err
	}
	for l.Accept(page) == Running {
		page, err = next(ctx, l.Next)
		if err != nil {
			l.Fail(err)
			break
		}
	}
	return l, nil
}

// Offset is the $skip for a 1-based page number.
func Offset(page int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * ddf.PageSize
}

// Truncate keeps the first limit records. A non-positive limit keeps all.
func Truncate(records []json.RawMessage, limit int) []json.RawMessage {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[:limit]
}

// FeaturedFirst moves records whose ListAgentKey equals agentKey ahead of the
// rest. Relative order within both groups is kept.
func FeaturedFirst(records []json.RawMessage, agentKey string) []json.RawMessage {
	if agentKey == "" || len(records) == 0 {
		return records
	}
	featured := make([]json.RawMessage, 0, len(records))
	rest := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		var rec struct {
			ListAgentKey string `json:"ListAgentKey"`
		}
		if err := json.Unmarshal(r, &rec); err == nil && rec.ListAgentKey == agentKey {
			featured = append(featured, r)
			continue
		}
		rest = append(rest, r)
	}
	return append(featured, rest...)
}
