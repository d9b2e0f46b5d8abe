package scan

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-doas/doas/fit"
	"github.com/cwbudde/algo-doas/doas/pak"
)

// BatchItem is the outcome of one scan file.
type BatchItem struct {
	Path   string
	Result *Result
	Err    error
}

// Batch evaluates many scan files with one window.
type Batch struct {
	Evaluator *Evaluator
	Window    fit.Window

	// Workers bounds the number of scans evaluated at once. Zero uses
	// GOMAXPROCS.
	Workers int

	ReaderOptions []pak.Option
}

// Run evaluates paths and returns one item per path in input order. A
// failing scan is reported in its item and does not stop the others. Scans
// not started before ctx is done carry the context error, which Run also
// returns.
func (b *Batch) Run(ctx context.Context, paths []string) ([]BatchItem, error) {
	items := make([]BatchItem, len(paths))
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		items[i].Path = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Result, items[i].Err = b.evaluate(path)
			return nil
		})
	}
	_ = g.Wait()
	return items, ctx.Err()
}

func (b *Batch) evaluate(path string) (*Result, error) {
	r, err := pak.Open(path, b.ReaderOptions...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return b.Evaluator.EvaluateScan(r, b.Window)
}
