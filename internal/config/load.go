package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "voxelstream.config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Load reads configuration from a YAML (.yaml, .yml) or JSON file. Values
// missing from the file keep their defaults. An empty path returns defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	format := FormatJSON
	if isYAML(path) {
		format = FormatYAML
	}
	return Parse(data, format)
}

// Format selects the encoding of a configuration document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// Parse decodes a configuration document, validates it against the embedded
// schema and then against the semantic rules in Validate.
func Parse(data []byte, format Format) (*Config, error) {
	doc := data
	if format == FormatYAML {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("convert config yaml: %w", err)
		}
		doc = converted
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(doc, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func validateSchema(doc []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Marshal encodes cfg in the given format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// WriteDefault writes the default configuration to path, as YAML or JSON
// depending on the extension.
func WriteDefault(path string) error {
	return Write(path, Default())
}

// Write stores cfg at path, creating parent directories as needed.
func Write(path string, cfg *Config) error {
	format := FormatJSON
	if isYAML(path) {
		format = FormatYAML
	}
	data, err := Marshal(cfg, format)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
