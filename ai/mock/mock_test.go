package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder()
	ctx := context.Background()

	vectors, err := e.EmbedTexts(ctx, []string{"alpha", "beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, vectors[0], vectors[2])
	assert.NotEqual(t, vectors[0], vectors[1])
	assert.Len(t, vectors[0], Dimension)

	var sum float64
	for _, v := range vectors[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)

	single, err := e.EmbedText(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], single)
	assert.Equal(t, 2, e.CallCount())
	assert.Equal(t, 4, e.TextCount())

	e.Reset()
	assert.Zero(t, e.CallCount())
}

func TestMockEmbedder_CustomFunc(t *testing.T) {
	e := NewMockEmbedder().WithEmbedTextsFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("down")
	})
	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	assert.EqualError(t, err, "down")
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	e, err := p.EmbedderFor(ctx, "")
	require.NoError(t, err)
	assert.Same(t, p.GetMockEmbedder(DefaultModel), e)

	other, err := p.EmbedderFor(ctx, "m")
	require.NoError(t, err)
	assert.NotSame(t, e, other)

	p.FailModel("m", errors.New("unknown model"))
	_, err = p.EmbedderFor(ctx, "m")
	assert.Error(t, err)
	p.FailModel("m", nil)
	_, err = p.EmbedderFor(ctx, "m")
	assert.NoError(t, err)
	assert.NoError(t, p.Close())
}
