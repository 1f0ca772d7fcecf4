package pkgsource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steps(url string) []StepDescriptor {
	return []StepDescriptor{{Type: "download", Fields: map[string]interface{}{"url": url}}}
}

func TestVersionSetResolveAliasFirstWriterWins(t *testing.T) {
	v1 := NewPkgVersion(map[string]string{"tag": "v1.0.0"}, steps("a"), []string{"latest"}, nil, time.Time{})
	v2 := NewPkgVersion(map[string]string{"tag": "v2.0.0"}, steps("b"), []string{"latest"}, nil, time.Time{})

	vs := NewVersionSet("src", []*PkgVersion{v1, v2}, nil, nil)

	got, ok := vs.ResolveAlias("latest")
	require.True(t, ok)
	assert.Equal(t, v1.ID(), got.ID())
}

func TestFindMatchingVersionExactMatch(t *testing.T) {
	v1 := NewPkgVersion(map[string]string{"tag": "v1.0.0"}, steps("a"), nil, nil, time.Time{})
	v2 := NewPkgVersion(map[string]string{"tag": "v2.0.0"}, steps("b"), nil, nil, time.Time{})
	vs := NewVersionSet("src", []*PkgVersion{v1, v2}, nil, nil)

	got, err := vs.FindMatchingVersion(map[string]string{"tag": "v2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, v2.ID(), got.ID())
}

func TestFindMatchingVersionNoMatch(t *testing.T) {
	v1 := NewPkgVersion(map[string]string{"tag": "v1.0.0"}, steps("a"), nil, nil, time.Time{})
	vs := NewVersionSet("src", []*PkgVersion{v1}, nil, nil)

	_, err := vs.FindMatchingVersion(map[string]string{"tag": "v9.9.9"})
	assert.Error(t, err)
}

func TestFindMatchingVersionResolvesAlias(t *testing.T) {
	v1 := NewPkgVersion(map[string]string{"tag": "v1.0.0"}, steps("a"), nil, nil, time.Time{})
	v2 := NewPkgVersion(map[string]string{"tag": "v2.0.0"}, steps("b"), []string{"latest"}, nil, time.Time{})
	vs := NewVersionSet("src", []*PkgVersion{v1, v2}, nil, nil)

	got, err := vs.FindMatchingVersion(map[string]string{"tag": "latest"})
	require.NoError(t, err)
	assert.Equal(t, v2.ID(), got.ID())
}
