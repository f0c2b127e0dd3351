// Package catalog is the minimal PlaybookLoader the engine depends on
// (internal/engine.PlaybookLoader). Catalog registration, versioning, and
// authoring are explicitly out of scope (spec §1): this loader only reads
// an already-authored playbook document off disk and decodes it, the way
// the spec's §9 design note describes the collaborator -- "accept interfaces
// / return structs", nothing more.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/noetl/core/internal/dsl"
)

// FileLoader resolves a catalog_id to a decoded *dsl.Playbook by reading
// "<dir>/<catalog_id>.yaml" (falling back to ".yml"). Decoded playbooks are
// cached for the lifetime of the process -- catalog content is assumed
// immutable per catalog_id (a new version gets a new catalog_id upstream).
type FileLoader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*dsl.Playbook
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir, cache: map[string]*dsl.Playbook{}}
}

func (l *FileLoader) Load(catalogID string) (*dsl.Playbook, error) {
	if catalogID == "" {
		return nil, fmt.Errorf("catalog: empty catalog_id")
	}

	l.mu.RLock()
	if pb, ok := l.cache[catalogID]; ok {
		l.mu.RUnlock()
		return pb, nil
	}
	l.mu.RUnlock()

	pb, err := l.readFile(catalogID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[catalogID] = pb
	l.mu.Unlock()
	return pb, nil
}

func (l *FileLoader) readFile(catalogID string) (*dsl.Playbook, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, catalogID+ext)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		return decodePlaybook(catalogID, raw)
	}
	return nil, fmt.Errorf("catalog: no playbook found for catalog_id %q under %s", catalogID, l.dir)
}

// decodePlaybook bridges YAML into dsl.Playbook via a JSON re-encode, so
// the dsl package keeps a single set of struct tags (json) and never
// depends on a YAML library itself -- dsl's own doc comment is explicit
// that it "does not parse YAML; callers hand it an already-decoded
// Playbook", and this is the one caller that does the handing.
func decodePlaybook(catalogID string, raw []byte) (*dsl.Playbook, error) {
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("catalog: parse yaml for %q: %w", catalogID, err)
	}
	normalized := normalizeYAML(generic)

	jsonBytes, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("catalog: re-encode %q: %w", catalogID, err)
	}

	var pb dsl.Playbook
	if err := json.Unmarshal(jsonBytes, &pb); err != nil {
		return nil, fmt.Errorf("catalog: decode playbook %q: %w", catalogID, err)
	}
	if pb.CatalogID == "" {
		pb.CatalogID = catalogID
	}
	return &pb, nil
}

// normalizeYAML walks a yaml.v3-decoded tree and converts any
// map[string]interface{} keys that arrived as non-string (rare, but legal
// YAML: e.g. a `1: ...` key) into strings, since encoding/json refuses
// non-string map keys outright.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(e)
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
