package source

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchResult is the outcome of one fan-out across adapters.
type FetchResult struct {
	Items    []TrendItem
	Counts   map[SourceType]int
	Errors   map[SourceType]error
	Duration map[SourceType]time.Duration
}

// Failed reports whether every adapter failed to produce items.
func (r FetchResult) Failed() bool {
	return len(r.Items) == 0 && len(r.Errors) > 0
}

// Aggregate runs every adapter concurrently. A failing adapter contributes
// whatever partial items it returned and never cancels the others. Items are
// concatenated in adapter order so the output is deterministic.
func Aggregate(ctx context.Context, sources []Source) FetchResult {
	type outcome struct {
		items []TrendItem
		err   error
		took  time.Duration
	}
	outcomes := make([]outcome, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			items, err := src.Collect(ctx)
			outcomes[i] = outcome{items: items, err: err, took: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	res := FetchResult{
		Counts:   make(map[SourceType]int, len(sources)),
		Errors:   make(map[SourceType]error),
		Duration: make(map[SourceType]time.Duration, len(sources)),
	}
	seen := make(map[string]bool)
	for i, src := range sources {
		o := outcomes[i]
		name := src.Name()
		if o.err != nil {
			res.Errors[name] = o.err
		}
		res.Duration[name] = o.took
		for _, item := range o.items {
			if item.ID == "" || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			res.Items = append(res.Items, item)
			res.Counts[name]++
		}
	}
	return res
}
