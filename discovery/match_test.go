package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varietylab/varietyd"
)

func TestSelectEmpty(t *testing.T) {
	_, err := Select("memory", nil)
	require.ErrorIs(t, err, varietyd.ErrNoCandidate)
}

func TestSelectKeywordBeatsScore(t *testing.T) {
	got, err := Select("vector-search", []varietyd.Candidate{
		{PackageName: "pkg-popular", Score: 99},
		{PackageName: "pkg-vector-search", Score: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg-vector-search", got.PackageName)
}

func TestSelectScoreBreaksKeywordTie(t *testing.T) {
	got, err := Select("memory", []varietyd.Candidate{
		{PackageName: "memory-a", Score: 10},
		{PackageName: "memory-b", Score: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-b", got.PackageName)
}

func TestSelectNameBreaksFullTie(t *testing.T) {
	got, err := Select("memory", []varietyd.Candidate{
		{PackageName: "memory-longer-name", Score: 5},
		{PackageName: "memory-zz", Score: 5},
		{PackageName: "memory-aa", Score: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-aa", got.PackageName)
}

func TestSelectCapabilityListCountsAsKeywords(t *testing.T) {
	got, err := Select("memory", []varietyd.Candidate{
		{PackageName: "pkg-alpha", Score: 50},
		{PackageName: "pkg-beta", Capabilities: []string{"memory"}, Score: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg-beta", got.PackageName)
}

func TestSelectDeterministic(t *testing.T) {
	in := []varietyd.Candidate{
		{PackageName: "pkg-c", Score: 7},
		{PackageName: "pkg-a", Score: 7},
		{PackageName: "pkg-b", Score: 7},
	}
	first, err := Select("memory", in)
	require.NoError(t, err)
	for range 10 {
		again, err := Select("memory", in)
		require.NoError(t, err)
		assert.Equal(t, first.PackageName, again.PackageName)
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	in := []varietyd.Candidate{
		{PackageName: "zzz", Score: 1},
		{PackageName: "aaa", Score: 9},
	}
	_, err := Select("memory", in)
	require.NoError(t, err)
	assert.Equal(t, "zzz", in[0].PackageName)
}
