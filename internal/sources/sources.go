// Package sources loads bibliography source descriptions from JSON, JSON5 or YAML files.
package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/bibharvest/internal/harvest"
)

// Load reads the file at path, chosen by extension, and validates every description.
func Load(path string) ([]harvest.SourceDescription, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	raw, err := normalize(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	return Decode(raw)
}

// Decode reads JSON holding either a list of descriptions or an object with a "sources" list.
func Decode(raw []byte) ([]harvest.SourceDescription, error) {
	trimmed := bytes.TrimSpace(raw)
	var list []harvest.SourceDescription
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Sources []harvest.SourceDescription `json:"sources"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		list = wrapped.Sources
	} else if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no sources defined")
	}

	for i, src := range list {
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("source #%d: %w", i, err)
		}
	}
	return list, nil
}

func normalize(ext string, data []byte) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json", "":
		return data, nil
	case ".json5":
		var v any
		if err := json5.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
}
