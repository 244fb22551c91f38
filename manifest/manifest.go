// Package manifest handles postc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "postc.toml"

// Image formats accepted by [build] format.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Manifest represents a postc.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Build   BuildConfig `toml:"build"`
	Run     RunConfig   `toml:"run"`
	Cache   CacheConfig `toml:"cache"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the postc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// BuildConfig configures `postc compile`.
type BuildConfig struct {
	Entry  string `toml:"entry"`
	Output string `toml:"output"`
	Format string `toml:"format"`
}

// RunConfig holds VM limits.
type RunConfig struct {
	MaxSteps     int64  `toml:"max-steps"`
	Timeout      string `toml:"timeout"`
	MaxCallDepth int    `toml:"max-call-depth"`
	Trace        bool   `toml:"trace"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no postc.toml is found.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a postc.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a postc.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Build.Entry == "" {
		m.Build.Entry = "main.pc"
	}
	if m.Build.Format == "" {
		m.Build.Format = FormatJSON
	}
	if m.Build.Output == "" {
		ext := ".json"
		if m.Build.Format == FormatCBOR {
			ext = ".pcb"
		}
		m.Build.Output = strings.TrimSuffix(m.Build.Entry, filepath.Ext(m.Build.Entry)) + ext
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".postc", "cache.db")
	}
}

func (m *Manifest) validate() error {
	switch m.Build.Format {
	case FormatJSON, FormatCBOR:
	default:
		return fmt.Errorf("build.format must be %q or %q, got %q", FormatJSON, FormatCBOR, m.Build.Format)
	}
	if m.Run.MaxSteps < 0 {
		return fmt.Errorf("run.max-steps must not be negative")
	}
	if m.Run.MaxCallDepth < 0 {
		return fmt.Errorf("run.max-call-depth must not be negative")
	}
	if _, err := m.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses run.timeout. An empty value means no timeout.
func (m *Manifest) Timeout() (time.Duration, error) {
	if m.Run.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.Run.Timeout)
	if err != nil {
		return 0, fmt.Errorf("run.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("run.timeout must not be negative")
	}
	return d, nil
}

// CacheEnabled reports whether [cache] enabled is set or left at its default
// of true.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled == nil || *m.Cache.Enabled
}

// Path resolves p against the manifest directory.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the build entry.
func (m *Manifest) EntryPath() string { return m.Path(m.Build.Entry) }

// OutputPath returns the absolute path of the build output.
func (m *Manifest) OutputPath() string { return m.Path(m.Build.Output) }

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string { return m.Path(m.Cache.Path) }

// LogFilePath returns the log file, or "" to log to stderr.
func (m *Manifest) LogFilePath() string { return m.Path(m.Log.File) }
