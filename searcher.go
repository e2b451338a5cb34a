package ecp

import (
	"context"
	"time"

	"github.com/hupe1980/ecp/internal/search"
	"github.com/hupe1980/ecp/internal/tree"
)

// Result is one ranked item.
type Result struct {
	// ID is the item id, the row of the item in the embedding source.
	ID    uint32
	Score float32
}

// SearchStats describes the work done by a Searcher since its last restart.
type SearchStats = search.Stats

// Searcher is a restartable search session. Create one per goroutine.
type Searcher struct {
	engine *search.Engine
	opts   *options
	logger *Logger
	// check reports whether the owning index is still usable.
	check func() error
}

func newSearcher(t *tree.Tree, leaves search.LeafReader, o *options, logger *Logger, check func() error) *Searcher {
	return &Searcher{
		engine: search.New(t, leaves),
		opts:   o,
		logger: logger,
		check:  check,
	}
}

// Search expands up to budget leaf clusters, best first, and returns the
// best k items found so far, best first.
//
// With restart, or on the first call, the session starts over. Without
// restart the session continues with the same query, so the total budget
// grows with every call and the results can only improve.
func (s *Searcher) Search(ctx context.Context, query []float32, budget, k int, restart bool) ([]Result, error) {
	if s.check != nil {
		if err := s.check(); err != nil {
			return nil, err
		}
	}

	before := s.engine.Stats().LeavesExpanded
	if restart {
		before = 0
	}

	start := time.Now()
	found, err := s.engine.Search(ctx, query, budget, k, restart)
	err = translateError(err)
	elapsed := time.Since(start)

	leaves := max(s.engine.Stats().LeavesExpanded-before, 0)
	s.opts.metricsCollector.RecordSearch(k, leaves, elapsed, err)
	s.logger.LogSearch(ctx, k, budget, len(found), err)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(found))
	for i, r := range found {
		results[i] = Result{ID: r.ItemID, Score: r.Score}
	}
	return results, nil
}

// Stats returns the work done since the last restart.
func (s *Searcher) Stats() SearchStats { return s.engine.Stats() }

// Reset discards the session.
func (s *Searcher) Reset() { s.engine.Reset() }
