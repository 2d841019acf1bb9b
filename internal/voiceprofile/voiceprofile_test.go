package voiceprofile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore_GetProfile_AbsentReturnsFalse(t *testing.T) {
	s := NewMemory()
	_, ok, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStore_UpdateWithContent_FirstUpdateHasPositiveConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p, err := s.UpdateWithContent(ctx, "u1", "A thoughtful essay about gardens and patience and gardens.")
	require.NoError(t, err)
	require.Equal(t, 1, p.SampleSize)
	require.Greater(t, p.Confidence, 0.0)
	require.Contains(t, p.ToneKeywords, "gardens")
}

func TestMemStore_UpdateWithContent_ConfidenceMonotonicallyIncreasesTowardCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	var last float64
	for i := 0; i < 30; i++ {
		p, err := s.UpdateWithContent(ctx, "u1", "steady recurring language about mountains and rivers")
		require.NoError(t, err)
		require.GreaterOrEqual(t, p.Confidence, last)
		last = p.Confidence
	}
	require.LessOrEqual(t, last, 0.95)
}

func TestMemStore_UpdateWithContent_IsolatedAcrossUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.UpdateWithContent(ctx, "u1", "alpha alpha alpha")
	require.NoError(t, err)
	_, ok, err := s.GetProfile(ctx, "u2")
	require.NoError(t, err)
	require.False(t, ok)
}
