package descriptor

import (
	"os"
	"path/filepath"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestResolvePriority(t *testing.T) {
	defaultDir := t.TempDir()
	tests := []struct {
		name       string
		explicit   string
		env        map[string]string
		wantOrigin Origin
		wantPath   string
	}{
		{
			name:       "explicit wins over env",
			explicit:   "/explicit.json",
			env:        map[string]string{EnvConnectionFile: "/env.json"},
			wantOrigin: OriginExplicit,
			wantPath:   "/explicit.json",
		},
		{
			name:       "env used without explicit",
			env:        map[string]string{EnvConnectionFile: "/env.json"},
			wantOrigin: OriginEnv,
			wantPath:   "/env.json",
		},
		{
			name:       "blank env falls back to default",
			env:        map[string]string{EnvConnectionFile: "  "},
			wantOrigin: OriginDefault,
			wantPath:   filepath.Join(defaultDir, DefaultFileName),
		},
		{
			name:       "nothing given uses default",
			explicit:   "   ",
			wantOrigin: OriginDefault,
			wantPath:   filepath.Join(defaultDir, DefaultFileName),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := Resolver{LookupEnv: lookupFrom(tt.env), DefaultDir: defaultDir}
			src := resolver.Resolve(tt.explicit)
			if src.Origin != tt.wantOrigin {
				t.Fatalf("origin = %q, want %q", src.Origin, tt.wantOrigin)
			}
			if src.Path != tt.wantPath {
				t.Fatalf("path = %q, want %q", src.Path, tt.wantPath)
			}
		})
	}
}

func TestResolverLoadDefaultUsesEmbeddedCopy(t *testing.T) {
	resolver := Resolver{LookupEnv: lookupFrom(nil), DefaultDir: t.TempDir()}
	src := resolver.Resolve("")
	desc, err := resolver.Load(src)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if desc != Default() {
		t.Fatalf("expected embedded default, got %+v", desc)
	}
	if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
		t.Fatalf("expected default not to be written by Load, stat err = %v", err)
	}
}

func TestResolverMaterializeDefaultWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	resolver := Resolver{LookupEnv: lookupFrom(nil), DefaultDir: dir}
	path, err := resolver.Materialize(resolver.Resolve(""))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	desc, err := Load(path)
	if err != nil {
		t.Fatalf("load materialized: %v", err)
	}
	if desc != Default() {
		t.Fatalf("materialized descriptor differs: %+v", desc)
	}
}

func TestResolverMaterializeExplicitRequiresFile(t *testing.T) {
	resolver := Resolver{LookupEnv: lookupFrom(nil)}
	if _, err := resolver.Materialize(Source{Path: filepath.Join(t.TempDir(), "nope.json"), Origin: OriginExplicit}); err == nil {
		t.Fatal("expected missing file error")
	}

	path := writeDescriptor(t, t.TempDir(), "kernel.json", validJSON)
	got, err := resolver.Materialize(Source{Path: path, Origin: OriginExplicit})
	if err != nil {
		t.Fatalf("materialize explicit: %v", err)
	}
	if got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}
}
