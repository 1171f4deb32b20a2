package kb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
)

type countingSource struct {
	filters int
	stats   int
	err     error
}

func (s *countingSource) FilterCodes(_ context.Context, query string, codeType codes.CodeType, limit int) (*api.FilterResponse, error) {
	s.filters++
	if s.err != nil {
		return nil, s.err
	}
	return &api.FilterResponse{
		Query:          query,
		CodeType:       codeType,
		Results:        []codes.MedicalCode{{Code: "27447", Description: "Total knee arthroplasty", Type: codes.CPT, Confidence: codes.Float(1)}},
		TotalResults:   1,
		TotalAvailable: 10000,
	}, nil
}

func (s *countingSource) KnowledgeBaseStats(context.Context) (*codes.KnowledgeBaseStats, error) {
	s.stats++
	return &codes.KnowledgeBaseStats{TotalCodes: 10000, ByType: map[string]int{"CPT": 10000}}, nil
}

func TestFilter_CachesByQueryTypeAndLimit(t *testing.T) {
	src := &countingSource{}
	b := NewBrowser(src, time.Minute, nil)
	ctx := context.Background()

	_, err := b.Filter(ctx, "knee", codes.CPT, 10)
	require.NoError(t, err)
	_, err = b.Filter(ctx, "knee", codes.CPT, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, src.filters)

	_, err = b.Filter(ctx, "knee", codes.CPT, 20)
	require.NoError(t, err)
	_, err = b.Filter(ctx, "knee", "", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, src.filters)
}

func TestFilter_QueryIsKeyedAsSent(t *testing.T) {
	src := &countingSource{}
	b := NewBrowser(src, time.Minute, nil)
	ctx := context.Background()

	first, err := b.Filter(ctx, "knee", codes.CPT, 10)
	require.NoError(t, err)
	second, err := b.Filter(ctx, " KNEE ", codes.CPT, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, src.filters)
	assert.Equal(t, "knee", first.Query)
	assert.Equal(t, " KNEE ", second.Query)
}

func TestFilter_CachedResultsAreCopies(t *testing.T) {
	src := &countingSource{}
	b := NewBrowser(src, time.Minute, nil)
	ctx := context.Background()

	first, err := b.Filter(ctx, "knee", codes.CPT, 0)
	require.NoError(t, err)
	first.Results[0].Code = "mutated"

	second, err := b.Filter(ctx, "knee", codes.CPT, 0)
	require.NoError(t, err)
	assert.Equal(t, "27447", second.Results[0].Code)
}

func TestFilter_ErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	b := NewBrowser(src, time.Minute, nil)

	_, err := b.Filter(context.Background(), "knee", codes.CPT, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestStatsAndInvalidate(t *testing.T) {
	src := &countingSource{}
	b := NewBrowser(src, time.Minute, nil)
	ctx := context.Background()

	s, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000, s.TotalCodes)
	_, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.stats)

	b.Invalidate()
	assert.Equal(t, 0, b.Len())
	_, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.stats)
}

func TestStats_CachedByTypeIsCopied(t *testing.T) {
	src := &countingSource{}
	b := NewBrowser(src, time.Minute, nil)
	ctx := context.Background()

	first, err := b.Stats(ctx)
	require.NoError(t, err)
	first.ByType["CPT"] = 1

	second, err := b.Stats(ctx)
	require.NoError(t, err)
	second.ByType["HCPCS"] = 5

	third, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CPT": 10000}, third.ByType)
	assert.Equal(t, 1, src.stats)
}
