package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/postc/cache"
	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/manifest"
	"github.com/chazu/postc/vm"
	"github.com/chazu/postc/vm/dist"
)

// compile handles `postc compile`.
// Usage:
//
//	postc compile                      # [build] entry → [build] output
//	postc compile -o out.json main.pc  # single file, explicit output
//	postc compile -format cbor a.pc b.pc
func (c *cli) compile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	output := fs.String("o", "", "Output path (single input only)")
	format := fs.String("format", c.m.Build.Format, "Image format: json or cbor")
	strip := fs.Bool("strip", false, "Drop functions unreachable from main")
	jobs := fs.Int("j", runtime.NumCPU(), "Maximum parallel compilations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *format != manifest.FormatJSON && *format != manifest.FormatCBOR {
		return fmt.Errorf("unknown format %q (want json or cbor)", *format)
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = []string{c.m.EntryPath()}
		if *output == "" && *format == c.m.Build.Format {
			*output = c.m.OutputPath()
		}
	}
	if len(inputs) > 1 && *output != "" {
		return fmt.Errorf("-o cannot be used with %d inputs", len(inputs))
	}

	g := new(errgroup.Group)
	g.SetLimit(max(*jobs, 1))
	for _, in := range inputs {
		out := *output
		if out == "" {
			out = outputFor(in, *format)
		}
		g.Go(func() error {
			return c.compileFile(in, out, *format, *strip)
		})
	}
	return g.Wait()
}

func (c *cli) compileFile(in, out, format string, strip bool) error {
	src, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	p, err := compiler.Compile(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if strip {
		p = dist.Strip(p)
	}
	data, err := encodeProgram(p, format)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	log.Infof("compiled %s -> %s (%d bytes)", in, out, len(data))
	return nil
}

// outputFor replaces the source extension with the one for format.
func outputFor(in, format string) string {
	ext := ".json"
	if format == manifest.FormatCBOR {
		ext = ".pcb"
	}
	return strings.TrimSuffix(in, filepath.Ext(in)) + ext
}

func encodeProgram(p *vm.Program, format string) ([]byte, error) {
	if format == manifest.FormatCBOR {
		return dist.MarshalProgram(p)
	}
	return vm.MarshalImage(p)
}

// loadProgram reads path by extension: .json and .pcb images are decoded,
// anything else is compiled as source, through the cache when enabled.
func (c *cli) loadProgram(ctx context.Context, path string, useCache bool) (*vm.Program, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return vm.LoadImage(path)
	case ".pcb":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return dist.UnmarshalProgram(data)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !useCache || !c.m.CacheEnabled() {
		return compiler.Compile(string(src))
	}

	store, err := cache.Open(c.m.CachePath())
	if err != nil {
		log.Warningf("cache unavailable: %s", err)
		return compiler.Compile(string(src))
	}
	defer store.Close()

	p, hit, err := store.Compile(ctx, string(src))
	if err != nil {
		return nil, err
	}
	log.Debugf("%s: cache hit=%t", path, hit)
	return p, nil
}

// inputPath returns the single file argument, or the manifest entry.
func (c *cli) inputPath(fs *flag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
		return c.m.EntryPath(), nil
	case 1:
		return fs.Arg(0), nil
	}
	return "", fmt.Errorf("%s takes at most one file, got %d", fs.Name(), fs.NArg())
}
