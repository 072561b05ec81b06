package toolchain

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	legacyFile = "rust-toolchain"      // Bare channel or TOML; wins over tomlFile.
	tomlFile   = "rust-toolchain.toml" // TOML with a [toolchain] table.
)

// Toolchain pin declared by a source tree.
type Selector struct {
	Channel    string   `toml:"channel"`    // e.g. "1.81.0", "stable", "nightly-2024-09-01".
	Components []string `toml:"components"` // Extra components, e.g. "rust-src".
	Targets    []string `toml:"targets"`    // Extra targets, e.g. "wasm32-unknown-unknown".
	Profile    string   `toml:"profile"`    // Installation profile, overrides the resolver default.
	File       string   `toml:"-"`          // File the pin was read from.
}

type selectorFile struct {
	Toolchain *Selector `toml:"toolchain"`
}

// Reads the toolchain pin from dir.
//
// Returns nil when the tree declares no pin. When both files are present the
// legacy file is used and a warning is logged.
func ReadSelector(dir string) (*Selector, error) {
	legacy, legacyErr := os.ReadFile(filepath.Join(dir, legacyFile))
	modern, modernErr := os.ReadFile(filepath.Join(dir, tomlFile))

	for _, err := range []error{legacyErr, modernErr} {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSelector, err)
		}
	}

	switch {
	case legacyErr == nil:
		if modernErr == nil {
			slog.Warn("both toolchain files present, using legacy file", "used", legacyFile, "ignored", tomlFile)
		}
		return parseLegacy(legacy, legacyFile)
	case modernErr == nil:
		return parseTOML(modern, tomlFile)
	default:
		return nil, nil
	}
}

// Parses a legacy rust-toolchain file, which holds either TOML or a single
// channel name.
func parseLegacy(data []byte, name string) (*Selector, error) {
	if strings.Contains(string(data), "[toolchain]") {
		return parseTOML(data, name)
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			return nil, fmt.Errorf("%w: %s: malformed channel %q", ErrInvalidSelector, name, line)
		}
		return &Selector{Channel: line, File: name}, nil
	}

	return nil, fmt.Errorf("%w: %s: empty", ErrInvalidSelector, name)
}

func parseTOML(data []byte, name string) (*Selector, error) {
	var f selectorFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSelector, name, err)
	}
	if f.Toolchain == nil || f.Toolchain.Channel == "" {
		return nil, fmt.Errorf("%w: %s: missing toolchain.channel", ErrInvalidSelector, name)
	}
	f.Toolchain.File = name
	return f.Toolchain, nil
}

// Reports whether an active toolchain name satisfies the pin.
//
// rustup names installed toolchains "<channel>-<host triple>", so the channel
// must match the whole name or a prefix ending at a dash.
func (s *Selector) Matches(active string) bool {
	if s == nil {
		return true
	}
	return active == s.Channel || strings.HasPrefix(active, s.Channel+"-")
}
