package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chazu/postc/cache"
	"github.com/chazu/postc/server"
	"github.com/chazu/postc/vm"
	"github.com/chazu/postc/vm/dist"
	"github.com/chazu/postc/wasm"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// vmFlags registers the VM limit flags with manifest values as defaults.
type vmFlags struct {
	steps   *int64
	timeout *time.Duration
	depth   *int
	trace   *bool
}

func (c *cli) vmFlags(fs *flag.FlagSet) (*vmFlags, error) {
	timeout, err := c.m.Timeout()
	if err != nil {
		return nil, err
	}
	return &vmFlags{
		steps:   fs.Int64("max-steps", c.m.Run.MaxSteps, "Abort after this many instructions (0 = unlimited)"),
		timeout: fs.Duration("timeout", timeout, "Abort after this long (0 = no limit)"),
		depth:   fs.Int("max-call-depth", c.m.Run.MaxCallDepth, "Maximum call depth (0 = default)"),
		trace:   fs.Bool("trace", c.m.Run.Trace, "Log every dispatched instruction at debug level"),
	}, nil
}

func (f *vmFlags) options() []vm.Option {
	opts := []vm.Option{
		vm.WithStepLimit(*f.steps),
		vm.WithTimeout(*f.timeout),
		vm.WithTrace(*f.trace),
	}
	if *f.depth > 0 {
		opts = append(opts, vm.WithMaxCallDepth(*f.depth))
	}
	return opts
}

// run handles `postc run`.
func (c *cli) run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	limits, err := c.vmFlags(fs)
	if err != nil {
		return err
	}
	noCache := fs.Bool("no-cache", false, "Compile without the program cache")
	var deny, allow stringList
	fs.Var(&deny, "deny", "Refuse programs using a capability (stdout, stdin, file); repeatable")
	fs.Var(&allow, "allow", "Only permit these capabilities; comma separated")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := c.inputPath(fs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := c.loadProgram(ctx, path, !*noCache)
	if err != nil {
		return err
	}

	policy := dist.NewPermissivePolicy()
	if len(allow) > 0 {
		policy = dist.NewRestrictedPolicy(allow)
	}
	for _, name := range deny {
		policy.Deny(name)
	}
	if err := policy.CheckProgram(p); err != nil {
		return err
	}

	opts := append(limits.options(), vm.WithInput(c.stdin), vm.WithOutput(c.stdout))
	return vm.New(p, opts...).Run(ctx)
}

// wasm handles `postc wasm`.
func (c *cli) wasm(args []string) error {
	fs := flag.NewFlagSet("wasm", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	output := fs.String("o", "", "Write the module to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := c.inputPath(fs)
	if err != nil {
		return err
	}

	p, err := c.loadProgram(context.Background(), path, true)
	if err != nil {
		return err
	}
	mod, err := wasm.Lower(p)
	if err != nil {
		return err
	}
	if len(mod.Unsupported) > 0 {
		log.Warningf("%s: %d opcodes left as comments: %s", path, len(mod.Unsupported), strings.Join(mod.Unsupported, ", "))
	}

	if *output == "" {
		_, err = fmt.Fprintln(c.stdout, mod.Text)
		return err
	}
	return os.WriteFile(*output, []byte(mod.Text+"\n"), 0o644)
}

// disasm handles `postc disasm`.
func (c *cli) disasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	format := fs.String("format", "text", "Listing format: text or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := c.inputPath(fs)
	if err != nil {
		return err
	}

	p, err := c.loadProgram(context.Background(), path, true)
	if err != nil {
		return err
	}

	switch *format {
	case "text":
		_, err = fmt.Fprint(c.stdout, vm.Disassemble(p))
	case "yaml":
		var data []byte
		data, err = vm.DisassembleYAML(p)
		if err == nil {
			_, err = c.stdout.Write(data)
		}
	default:
		err = fmt.Errorf("unknown format %q (want text or yaml)", *format)
	}
	return err
}

// lsp handles `postc lsp`.
func (c *cli) lsp(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("lsp takes no arguments")
	}
	return server.NewLSP().Run()
}

// cache handles `postc cache stats` and `postc cache prune`.
func (c *cli) cache(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("cache needs a subcommand: stats or prune")
	}
	if args[0] != "stats" && args[0] != "prune" {
		return fmt.Errorf("unknown cache subcommand %q", args[0])
	}

	fs := flag.NewFlagSet("cache "+args[0], flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "Prune entries unused for this long (0 = all)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	store, err := cache.Open(c.m.CachePath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	switch args[0] {
	case "stats":
		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "path:    %s\n", store.Path())
		fmt.Fprintf(c.stdout, "entries: %d\n", st.Entries)
		fmt.Fprintf(c.stdout, "bytes:   %d\n", st.Bytes)
		fmt.Fprintf(c.stdout, "hits:    %d\n", st.Hits)
	case "prune":
		n, err := store.Prune(ctx, *olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "pruned %d entries\n", n)
	}
	return nil
}
