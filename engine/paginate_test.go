package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
)

func testPaginator(maxIterations int) *Paginator {
	return NewPaginator(config.PaginationConfig{
		StableRounds:  3,
		MaxIterations: maxIterations,
	}, testInteractor(), nil)
}

func TestExhaust_Fixpoint(t *testing.T) {
	tests := []struct {
		step, total int
		wantReveals int
	}{
		{step: 3, total: 10, wantReveals: 4},
		{step: 3, total: 9, wantReveals: 3},
		{step: 5, total: 1, wantReveals: 1},
		{step: 1, total: 12, wantReveals: 12},
	}
	for _, tt := range tests {
		page, btn := loadMorePage(0, tt.step, tt.total)
		res, err := testPaginator(50).Exhaust(context.Background(), page, page,
			[]RevealStrategy{ClickReveal{Selector: "button.more"}}, ".item")
		require.NoError(t, err)

		assert.Len(t, res.Items, tt.total, "step=%d total=%d", tt.step, tt.total)
		assert.Equal(t, tt.wantReveals, res.Reveals, "step=%d total=%d", tt.step, tt.total)
		assert.Equal(t, tt.wantReveals, btn.clicks)
		assert.False(t, res.Ceiling)
		assert.Less(t, res.Iterations, 50)
	}
}

func TestExhaust_NoAffordanceReturnsImmediately(t *testing.T) {
	page, _ := loadMorePage(4, 0, 4)
	res, err := testPaginator(50).Exhaust(context.Background(), page, page,
		[]RevealStrategy{ClickReveal{Selector: "button.more"}, WindowScroll{}}, ".item")
	require.NoError(t, err)

	assert.Len(t, res.Items, 4)
	assert.Equal(t, 0, res.Reveals)
	assert.Equal(t, 1, res.Iterations)
}

func TestExhaust_CeilingKeepsItems(t *testing.T) {
	// A feed that never stops growing.
	page, _ := loadMorePage(0, 2, 1<<30)
	res, err := testPaginator(5).Exhaust(context.Background(), page, page,
		[]RevealStrategy{ClickReveal{Selector: "button.more"}}, ".item")
	require.NoError(t, err)

	assert.True(t, res.Ceiling)
	assert.Equal(t, 5, res.Iterations)
	assert.Len(t, res.Items, 10)
}

func TestExhaust_WindowScrollFallback(t *testing.T) {
	shown := 5
	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		if sel != ".row" {
			return nil
		}
		out := make([]browser.Element, shown)
		for i := range out {
			out[i] = &fakeEl{}
		}
		return out
	}
	page := &fakePage{fakeEl: root}
	page.onScroll = func(p *fakePage) {
		if shown < 20 {
			shown += 5
			p.offset += 800
		}
	}

	res, err := testPaginator(50).Exhaust(context.Background(), page, page,
		[]RevealStrategy{ClickReveal{Selector: "button.more"}, WindowScroll{}}, ".row")
	require.NoError(t, err)

	assert.Len(t, res.Items, 20)
	assert.Equal(t, 3, res.Reveals)
}

func TestExhaust_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page, _ := loadMorePage(0, 1, 5)
	_, err := testPaginator(50).Exhaust(ctx, page, page,
		[]RevealStrategy{ClickReveal{Selector: "button.more"}}, ".item")
	assert.ErrorIs(t, err, context.Canceled)
}
