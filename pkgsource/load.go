package pkgsource

import (
	"io"
	"io/ioutil"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// LoadDescriptor reads a Pkgfile.toml-shaped document from r and returns one
// Descriptor per top-level `[[source]]` table, the way the teacher's
// registry_config.go walks a parsed TomlTree for `[[registries]]` entries.
func LoadDescriptor(r io.Reader) ([]Descriptor, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading descriptor")
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing descriptor toml")
	}

	sourcesVal := tree.Get("source")
	sources, ok := sourcesVal.([]*toml.Tree)
	if !ok {
		return nil, errors.New("descriptor: expected [[source]] array of tables")
	}

	out := make([]Descriptor, 0, len(sources))
	for _, s := range sources {
		typ, _ := s.Get("type").(string)
		if typ == "" {
			return nil, errors.New("descriptor: source entry missing \"type\"")
		}
		fields := treeToMap(s)
		delete(fields, "type")
		out = append(out, Descriptor{Type: typ, Fields: fields})
	}
	return out, nil
}

func treeToMap(t *toml.Tree) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range t.Keys() {
		v := t.Get(k)
		if sub, ok := v.(*toml.Tree); ok {
			out[k] = treeToMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}

// LoadDescriptorYAML reads the same logical shape as LoadDescriptor but from
// a YAML document, the alternate on-disk form spec §6 allows. The YAML form
// is a plain list under a `source:` key instead of TOML's array-of-tables
// sugar.
func LoadDescriptorYAML(r io.Reader) ([]Descriptor, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading descriptor")
	}

	var doc struct {
		Source []map[string]interface{} `yaml:"source"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing descriptor yaml")
	}

	out := make([]Descriptor, 0, len(doc.Source))
	for _, s := range doc.Source {
		typ, _ := s["type"].(string)
		if typ == "" {
			return nil, errors.New("descriptor: source entry missing \"type\"")
		}
		fields := make(map[string]interface{}, len(s))
		for k, v := range s {
			if k == "type" {
				continue
			}
			fields[k] = normalizeYAML(v)
		}
		out = append(out, Descriptor{Type: typ, Fields: fields})
	}
	return out, nil
}

// normalizeYAML converts yaml.v2's map[interface{}]interface{} decode shape
// into map[string]interface{} recursively, so downstream code (schema
// validation, substitution) never has to special-case the YAML path.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks, _ := k.(string)
			out[ks] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}
