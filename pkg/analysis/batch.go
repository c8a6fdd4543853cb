package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"flightassure/pkg/grid"
	"flightassure/pkg/metrics"
)

// Progress bounds. The last 5% is reserved for result assembly.
const (
	ProgressFloor   = 10
	ProgressCeiling = 95
	DefaultChunk    = 100
)

// ProgressReporter receives monotonically increasing percentages for a run.
type ProgressReporter interface {
	Progress(runID string, percent int)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(runID string, percent int)

// Progress implements ProgressReporter.
func (f ProgressFunc) Progress(runID string, percent int) { f(runID, percent) }

// CellResult is what a CellCheck computed for one cell.
type CellResult struct {
	Visibility      float64
	VisibleStations int
	FullyVisible    bool
}

// CellCheck computes the result for a single cell. It must not modify the
// cell; the runner applies the result only when the check succeeds.
type CellCheck func(ctx context.Context, cell *grid.Cell) (CellResult, error)

// BatchOptions tunes RunBatched.
type BatchOptions struct {
	ChunkSize   int
	Concurrency int
	YieldPause  time.Duration
	Token       *CancelToken
	Reporter    ProgressReporter
	RunID       string
}

// BatchResult counts what happened to the cells.
type BatchResult struct {
	Processed int
	Failed    int
	Visible   int
}

// RunBatched applies check to every cell, one chunk at a time. Cells within a
// chunk run concurrently; chunks run in order with a yield between them.
// Cancellation is observed before each chunk and surfaces as ErrAborted.
func RunBatched(ctx context.Context, cells []*grid.Cell, check CellCheck, opts BatchOptions) (BatchResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunk
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = opts.ChunkSize
	}

	report := func(p int) {
		if opts.Reporter != nil {
			opts.Reporter.Progress(opts.RunID, p)
		}
	}

	var res BatchResult
	chunks := (len(cells) + opts.ChunkSize - 1) / opts.ChunkSize
	report(ProgressFloor)

	for k := 0; k < chunks; k++ {
		if opts.Token.Cancelled() {
			return res, newError(KindVisibilityAnalysis, ErrAborted, "analysis aborted")
		}
		if err := ctx.Err(); err != nil {
			return res, newError(KindVisibilityAnalysis, fmt.Errorf("%w: %w", ErrAborted, err), "analysis aborted")
		}

		lo := k * opts.ChunkSize
		hi := min(lo+opts.ChunkSize, len(cells))
		failed, visible := runChunk(ctx, cells[lo:hi], check, opts.Concurrency)

		res.Processed += hi - lo
		res.Failed += failed
		res.Visible += visible
		report(ProgressFloor + (ProgressCeiling-ProgressFloor)*(k+1)/chunks)

		if k < chunks-1 {
			yield(ctx, opts.YieldPause)
		}
	}
	// An abort during the final chunk still voids the run.
	if opts.Token.Cancelled() {
		return res, newError(KindVisibilityAnalysis, ErrAborted, "analysis aborted")
	}
	return res, nil
}

func runChunk(ctx context.Context, chunk []*grid.Cell, check CellCheck, concurrency int) (failed, visible int) {
	var nFailed, nVisible atomic.Int32
	var eg errgroup.Group
	eg.SetLimit(concurrency)

	for _, cell := range chunk {
		cell := cell
		eg.Go(func() error {
			r, err := safeCheck(ctx, cell, check)
			if err != nil {
				nFailed.Add(1)
				metrics.RecordCell("failed")
				slog.Warn("Cell check failed", "cell", cell.ID, "error", err)
				return nil
			}
			cell.SetVisibility(r.Visibility)
			cell.VisibleStations = r.VisibleStations
			cell.FullyVisible = r.FullyVisible
			if cell.Visible() {
				nVisible.Add(1)
				metrics.RecordCell("visible")
			} else {
				metrics.RecordCell("obstructed")
			}
			return nil
		})
	}
	_ = eg.Wait()
	return int(nFailed.Load()), int(nVisible.Load())
}

func safeCheck(ctx context.Context, cell *grid.Cell, check CellCheck) (r CellResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in cell check: %v", p)
		}
	}()
	return check(ctx, cell)
}

func yield(ctx context.Context, pause time.Duration) {
	runtime.Gosched()
	if pause <= 0 {
		return
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
