package pkgsource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPkgVersionIDIsPureFunctionOfSteps(t *testing.T) {
	steps := []StepDescriptor{{Type: "download", Fields: map[string]interface{}{"url": "${url}"}}}
	v1 := NewPkgVersion(map[string]string{"url": "https://example.com/a.tar.gz"}, steps, nil, nil, time.Time{})
	v2 := NewPkgVersion(map[string]string{"url": "https://example.com/a.tar.gz"}, steps, nil, nil, time.Time{})
	v3 := NewPkgVersion(map[string]string{"url": "https://example.com/b.tar.gz"}, steps, nil, nil, time.Time{})

	assert.Equal(t, v1.ID(), v2.ID())
	assert.NotEqual(t, v1.ID(), v3.ID())
}

func TestPkgVersionToMapFromMapRoundTrip(t *testing.T) {
	steps := []StepDescriptor{{Type: "download", Fields: map[string]interface{}{"url": "${url}"}}}
	orig := NewPkgVersion(map[string]string{"url": "https://example.com/a.tar.gz"}, steps, []string{"latest"}, map[string]interface{}{"size": float64(42)}, time.Now().Truncate(time.Second))

	m := orig.ToMap()
	back, err := FromMap(m)
	require.NoError(t, err)

	assert.Equal(t, orig.ID(), back.ID())
	assert.Equal(t, orig.IDVars, back.IDVars)
	assert.Equal(t, orig.Aliases, back.Aliases)
	assert.True(t, orig.MetadataTimestamp.Equal(back.MetadataTimestamp))
}

func TestFromMapRejectsTamperedID(t *testing.T) {
	steps := []StepDescriptor{{Type: "download", Fields: map[string]interface{}{"url": "x"}}}
	v := NewPkgVersion(nil, steps, nil, nil, time.Time{})
	m := v.ToMap()
	m["id"] = "not-the-real-id"

	_, err := FromMap(m)
	assert.Error(t, err)
}

func TestSubstituteIsIdempotentAndLeavesUnknownPlaceholdersLiteral(t *testing.T) {
	vars := map[string]string{"version": "1.2.3"}
	once := substitute("release-${version}-${unknown}", vars)
	twice := substitute(once, vars)

	assert.Equal(t, "release-1.2.3-${unknown}", once)
	assert.Equal(t, once, twice)
}

func TestNormalizeContentSpecShapes(t *testing.T) {
	bare, err := NormalizeContentSpec("README.md")
	require.NoError(t, err)
	assert.Equal(t, ContentSpec{{From: "README.md", Path: "README.md"}}, bare)

	single, err := NormalizeContentSpec(map[string]interface{}{"from": "bin/tool", "path": "tool", "mode": "755"})
	require.NoError(t, err)
	assert.Equal(t, ContentSpec{{From: "bin/tool", Path: "tool", Mode: "755"}}, single)

	list, err := NormalizeContentSpec([]interface{}{
		"LICENSE",
		map[string]interface{}{"from": "bin/tool", "path": "tool"},
	})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestNormalizeContentSpecRejectsDuplicatePaths(t *testing.T) {
	_, err := NormalizeContentSpec([]interface{}{
		map[string]interface{}{"from": "a", "path": "out"},
		map[string]interface{}{"from": "b", "path": "out"},
	})
	assert.Error(t, err)
}

func TestValidateRequiredField(t *testing.T) {
	schema := map[string]ArgSchema{"url": {Type: "string", Required: true}}
	err := Validate("git_repo", schema, Descriptor{Type: "git_repo", Fields: map[string]interface{}{}})
	assert.Error(t, err)

	err = Validate("git_repo", schema, Descriptor{Type: "git_repo", Fields: map[string]interface{}{"url": "https://x"}})
	assert.NoError(t, err)
}
