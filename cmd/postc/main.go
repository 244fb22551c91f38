// PostC CLI - compile, run and inspect PostC programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/postc/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("postc.cli")

// cli carries the project configuration and standard streams shared by every
// subcommand.
type cli struct {
	m      *manifest.Manifest
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("postc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbosity := fs.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	logFile := fs.String("log", "", "Write logs to this file instead of stderr")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return 2
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	if m == nil {
		m = manifest.Default(".")
	}
	configureLogging(m, *verbosity, *logFile)

	c := &cli{m: m, stdin: stdin, stdout: stdout, stderr: stderr}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "compile":
		err = c.compile(cmdArgs)
	case "run":
		err = c.run(cmdArgs)
	case "wasm":
		err = c.wasm(cmdArgs)
	case "disasm":
		err = c.disasm(cmdArgs)
	case "repl":
		err = c.repl(cmdArgs)
	case "lsp":
		err = c.lsp(cmdArgs)
	case "cache":
		err = c.cache(cmdArgs)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", cmd)
		usage(stderr)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// configureLogging applies flag settings over the [log] section.
func configureLogging(m *manifest.Manifest, verbosity int, logFile string) {
	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	if logFile == "" {
		logFile = m.LogFilePath()
	}
	var path *string
	if logFile != "" {
		path = &logFile
	}
	commonlog.Configure(verbosity, path)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: postc [-v N] [-log file] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  compile [files...]      Compile sources to bytecode images\n")
	fmt.Fprintf(w, "  run [file]              Run a .pc source, .json image or .pcb image\n")
	fmt.Fprintf(w, "  wasm [file]             Lower a program to WebAssembly text\n")
	fmt.Fprintf(w, "  disasm [file]           Print a bytecode listing\n")
	fmt.Fprintf(w, "  repl                    Start an interactive session\n")
	fmt.Fprintf(w, "  lsp                     Start the language server on stdio\n")
	fmt.Fprintf(w, "  cache stats|prune       Inspect or prune the compile cache\n")
	fmt.Fprintf(w, "  help                    Show this help\n")
	fmt.Fprintf(w, "\nWithout a file argument, compile and run use [build] entry from %s.\n", manifest.FileName)
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  postc run fib.pc\n")
	fmt.Fprintf(w, "  postc compile -format cbor -strip a.pc b.pc\n")
	fmt.Fprintf(w, "  postc run -deny file untrusted.pcb\n")
	fmt.Fprintf(w, "  postc disasm -format yaml fib.json\n")
}
