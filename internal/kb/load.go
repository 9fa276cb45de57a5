package kb

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed knowledge_base.yaml
var defaultCorpus []byte

// Format selects the encoding of a knowledge-base document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Default returns the built-in knowledge base.
func Default() ([]Entry, error) {
	return Parse(defaultCorpus, FormatYAML)
}

// LoadFile reads a knowledge base from path. The format follows the file
// extension: .yaml/.yml, or .json/.jsonc (comments and trailing commas
// allowed).
func LoadFile(path string) ([]Entry, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json", ".jsonc":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("knowledge base %s: unsupported extension %q", path, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	entries, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes and validates a knowledge-base document: a top-level list
// of entries. Category and severity are normalized; entry IDs must be
// unique and non-empty.
func Parse(data []byte, format Format) ([]Entry, error) {
	var entries []Entry
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	if err := normalize(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func normalize(entries []Entry) error {
	var errs []error
	seen := make(map[string]struct{}, len(entries))
	for i := range entries {
		e := &entries[i]
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("entry %d: id is required", i))
			continue
		}
		if _, dup := seen[e.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %s: duplicate id", e.ID))
		}
		seen[e.ID] = struct{}{}

		if strings.TrimSpace(e.Title) == "" {
			errs = append(errs, fmt.Errorf("entry %s: title is required", e.ID))
		}
		cat, ok := ParseCategory(string(e.Category))
		if !ok {
			errs = append(errs, fmt.Errorf("entry %s: unknown category %q", e.ID, e.Category))
		}
		e.Category = cat
		sev, ok := ParseSeverity(string(e.Severity))
		if !ok {
			errs = append(errs, fmt.Errorf("entry %s: unknown severity %q", e.ID, e.Severity))
		}
		e.Severity = sev
	}
	return errors.Join(errs...)
}
