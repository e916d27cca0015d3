package descriptor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvConnectionFile names the variable holding the default descriptor path.
const EnvConnectionFile = "IPYTHON_MCP_CONNECTION"

// DefaultFileName is the file name used when the embedded default is written to disk.
const DefaultFileName = "default_connection.json"

//go:embed default_connection.json
var defaultDescriptorJSON []byte

// Origin records which priority level produced a Source.
type Origin string

const (
	OriginExplicit Origin = "explicit"
	OriginEnv      Origin = "env"
	OriginDefault  Origin = "default"
)

// Source is a resolved descriptor location.
type Source struct {
	Path   string
	Origin Origin
}

// Default returns the embedded default descriptor.
func Default() Descriptor {
	desc, err := Parse(defaultDescriptorJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded default descriptor is invalid: %v", err))
	}
	return desc
}

// Resolver applies the explicit > env > default priority rule.
type Resolver struct {
	// LookupEnv reads environment variables; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// DefaultDir is where the embedded default is materialized; empty means
	// <user cache dir>/ipython-mcp.
	DefaultDir string
}

// Resolve picks the descriptor source for an optional explicit path.
func (r Resolver) Resolve(explicit string) Source {
	if path := strings.TrimSpace(explicit); path != "" {
		return Source{Path: path, Origin: OriginExplicit}
	}
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if value, ok := lookup(EnvConnectionFile); ok && strings.TrimSpace(value) != "" {
		return Source{Path: strings.TrimSpace(value), Origin: OriginEnv}
	}
	return Source{Path: r.defaultPath(), Origin: OriginDefault}
}

// Load reads the descriptor for src. The default origin is served from the
// embedded copy so it never depends on the materialized file.
func (r Resolver) Load(src Source) (Descriptor, error) {
	if src.Origin == OriginDefault {
		return Default(), nil
	}
	return Load(src.Path)
}

// Materialize returns a filesystem path holding src's descriptor, writing
// the embedded default to DefaultDir when needed. Kernel launches need a
// real file because the kernel reads it itself.
func (r Resolver) Materialize(src Source) (string, error) {
	if src.Origin != OriginDefault {
		path, err := ExpandPath(src.Path)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("connection file %s: %w", path, err)
		}
		return path, nil
	}
	path := src.Path
	if path == "" {
		path = r.defaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create default descriptor dir: %w", err)
	}
	if err := os.WriteFile(path, defaultDescriptorJSON, 0o600); err != nil {
		return "", fmt.Errorf("write default descriptor: %w", err)
	}
	return path, nil
}

func (r Resolver) defaultPath() string {
	dir := strings.TrimSpace(r.DefaultDir)
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "ipython-mcp")
	}
	return filepath.Join(dir, DefaultFileName)
}
