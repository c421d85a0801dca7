package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/applogic/pkg/schema"
)

// Bundle is the on-disk description of one simulated app: its actions, the
// config visible to them, its limits and the state a fresh world starts from.
type Bundle struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Config      map[string]any             `json:"config,omitempty"`
	Limits      schema.Limits              `json:"limits,omitempty"`
	State       *InitialState              `json:"state,omitempty"`
	Actions     []*schema.ActionDefinition `json:"actions"`
}

// InitialState seeds a world for sandbox runs and the HTTP/MCP servers.
type InitialState struct {
	Agents map[string]map[string]any `json:"agents,omitempty"`
	Shared map[string]any            `json:"shared,omitempty"`
}

// Format is a bundle file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadBundle reads and decodes a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	b, err := ParseBundle(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	return b, nil
}

// ParseBundle decodes a bundle. YAML is converted to JSON first so both
// encodings share the tagged-union block decoder.
func ParseBundle(data []byte, format Format) (*Bundle, error) {
	raw, err := ToJSON(data, format)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "decode bundle: %s", err.Error()).WithCause(err)
	}
	if b.Name == "" {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "bundle has no name")
	}
	return &b, nil
}

// ToJSON converts a YAML or JSON document to JSON bytes.
func ToJSON(data []byte, format Format) ([]byte, error) {
	if format != FormatYAML {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "parse yaml: %s", err.Error()).WithCause(err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "yaml is not representable as json: %s", err.Error()).WithCause(err)
	}
	return raw, nil
}
