package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightassure/pkg/grid"
)

func makeCells(n int) []*grid.Cell {
	cells := make([]*grid.Cell, n)
	for i := range cells {
		cells[i] = &grid.Cell{Row: i}
	}
	return cells
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) Progress(_ string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, percent)
}

func TestRunBatched_AllCells(t *testing.T) {
	cells := makeCells(250)
	check := func(_ context.Context, c *grid.Cell) (CellResult, error) {
		if c.Row%2 == 0 {
			return CellResult{Visibility: 100, VisibleStations: 1, FullyVisible: true}, nil
		}
		return CellResult{}, nil
	}

	log := &progressLog{}
	res, err := RunBatched(context.Background(), cells, check, BatchOptions{ChunkSize: 100, Reporter: log})
	require.NoError(t, err)

	assert.Equal(t, BatchResult{Processed: 250, Visible: 125}, res)
	for _, c := range cells {
		require.NotNil(t, c.Visibility)
		assert.Equal(t, c.Row%2 == 0, c.FullyVisible)
	}

	// Floor, then one report per chunk, ending at the ceiling.
	assert.Equal(t, []int{10, 38, 66, 95}, log.values)
}

func TestRunBatched_ProgressMonotonic(t *testing.T) {
	log := &progressLog{}
	_, err := RunBatched(context.Background(), makeCells(1234), func(context.Context, *grid.Cell) (CellResult, error) {
		return CellResult{}, nil
	}, BatchOptions{ChunkSize: 7, Reporter: log})
	require.NoError(t, err)

	require.NotEmpty(t, log.values)
	assert.Equal(t, ProgressFloor, log.values[0])
	assert.Equal(t, ProgressCeiling, log.values[len(log.values)-1])
	for i := 1; i < len(log.values); i++ {
		assert.GreaterOrEqual(t, log.values[i], log.values[i-1])
		assert.Less(t, log.values[i], 100)
	}
}

func TestRunBatched_CellFailureLeavesCellUnset(t *testing.T) {
	cells := makeCells(10)
	check := func(_ context.Context, c *grid.Cell) (CellResult, error) {
		switch c.Row {
		case 3:
			return CellResult{Visibility: 100}, errors.New("terrain glitch")
		case 7:
			panic("geometry edge case")
		}
		return CellResult{Visibility: 100}, nil
	}

	res, err := RunBatched(context.Background(), cells, check, BatchOptions{ChunkSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 8, res.Visible)
	assert.Nil(t, cells[3].Visibility)
	assert.Nil(t, cells[7].Visibility)
	assert.NotNil(t, cells[0].Visibility)
}

func TestRunBatched_CancelBeforeStart(t *testing.T) {
	token := NewCancelToken()
	token.Cancel()

	called := false
	res, err := RunBatched(context.Background(), makeCells(5), func(context.Context, *grid.Cell) (CellResult, error) {
		called = true
		return CellResult{}, nil
	}, BatchOptions{Token: token})

	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, KindVisibilityAnalysis, KindOf(err))
	assert.False(t, called)
	assert.Zero(t, res.Processed)
}

func TestRunBatched_CancelAtChunkBoundary(t *testing.T) {
	token := NewCancelToken()
	cells := makeCells(30)
	var mu sync.Mutex
	seen := 0
	check := func(context.Context, *grid.Cell) (CellResult, error) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 1 {
			token.Cancel()
		}
		return CellResult{Visibility: 100}, nil
	}

	res, err := RunBatched(context.Background(), cells, check, BatchOptions{ChunkSize: 10, Token: token})
	assert.ErrorIs(t, err, ErrAborted)
	// The in-flight chunk completes, the next one never starts.
	assert.Equal(t, 10, res.Processed)
	assert.Equal(t, 10, seen)
	assert.Nil(t, cells[10].Visibility)
}

func TestRunBatched_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunBatched(ctx, makeCells(5), func(context.Context, *grid.Cell) (CellResult, error) {
		return CellResult{}, nil
	}, BatchOptions{})
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelToken(t *testing.T) {
	var nilToken *CancelToken
	assert.False(t, nilToken.Cancelled())

	tok := NewCancelToken()
	assert.False(t, tok.Cancelled())
	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.Cancelled())
}
