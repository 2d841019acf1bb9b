package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	p := NewDeterministic(64)
	a, err := p.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDeterministic_DifferentTextDifferentVector(t *testing.T) {
	p := NewDeterministic(64)
	out, err := p.Embed(context.Background(), []string{"alpha content", "beta content entirely"})
	require.NoError(t, err)
	require.NotEqual(t, out[0], out[1])
}

func TestDeterministic_DimensionHonored(t *testing.T) {
	p := NewDeterministic(128)
	require.Equal(t, 128, p.Dimension())
	out, err := p.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, out[0], 128)
}

func TestDeterministic_DefaultsWhenNonPositive(t *testing.T) {
	p := NewDeterministic(0)
	require.Equal(t, 512, p.Dimension())
}
