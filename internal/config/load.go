package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Decodes a pipeline document on top of [Default] and validates it.
//
// Unknown fields are rejected so that typos do not silently fall back to
// defaults.
func Parse(data []byte) (*Pipeline, error) {
	p := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reads and parses the pipeline file at path.
//
// A relative source directory is resolved against the directory containing
// the file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if !filepath.IsAbs(p.Source) {
		p.Source = filepath.Join(filepath.Dir(path), p.Source)
	}

	slog.Debug("pipeline loaded", "path", path, "name", p.Name)
	return p, nil
}

// Like [Load], but returns [Default] when no file exists at path.
func LoadOrDefault(path string) (*Pipeline, error) {
	p, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no pipeline file, using defaults", "path", path)
		return Default(), nil
	}
	return p, err
}

// Encodes the pipeline as YAML.
func (p *Pipeline) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
