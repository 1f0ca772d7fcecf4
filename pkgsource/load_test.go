package pkgsource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlDoc = `
[[source]]
  type = "git_repo"
  url = "https://example.com/foo.git"
  tag_filter = "^v"

[[source]]
  type = "template_url"
  url_template = "https://example.com/tool-${version}.tar.gz"
`

func TestLoadDescriptorParsesTomlSources(t *testing.T) {
	descs, err := LoadDescriptor(strings.NewReader(tomlDoc))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "git_repo", descs[0].Type)
	assert.Equal(t, "https://example.com/foo.git", descs[0].String("url"))
	assert.Equal(t, "^v", descs[0].String("tag_filter"))
	assert.Equal(t, "template_url", descs[1].Type)
}

func TestLoadDescriptorRejectsMissingType(t *testing.T) {
	_, err := LoadDescriptor(strings.NewReader(`[[source]]
url = "https://example.com"
`))
	assert.Error(t, err)
}

const yamlDoc = `
source:
  - type: git_repo
    url: https://example.com/foo.git
    nested:
      a: 1
      b: two
  - type: template_url
    url_template: "https://example.com/tool-${version}.tar.gz"
`

func TestLoadDescriptorYAMLParsesSourcesAndNormalizesNestedMaps(t *testing.T) {
	descs, err := LoadDescriptorYAML(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "git_repo", descs[0].Type)
	nested, ok := descs[0].Fields["nested"].(map[string]interface{})
	require.True(t, ok, "nested yaml map should be normalized to map[string]interface{}")
	assert.Equal(t, "two", nested["b"])
}
