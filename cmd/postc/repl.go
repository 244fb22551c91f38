package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/vm"
)

const (
	historyFile = ".postc_history"
	promptMain  = "postc> "
	promptCont  = "   ..> "
)

// session is the state shared by successive REPL inputs: the program grows
// with every compiled line and globals outlive each run.
type session struct {
	prog    *vm.Program
	globals map[string]vm.Value
	out     io.Writer
	opts    []vm.Option
}

func newSession(out io.Writer, opts ...vm.Option) *session {
	s := &session{out: out, opts: opts}
	s.reset()
	return s
}

func (s *session) reset() {
	s.prog = vm.NewProgram()
	s.globals = make(map[string]vm.Value)
}

// eval compiles input on top of the session program and runs it. Whatever is
// left on the stack is echoed.
func (s *session) eval(ctx context.Context, input string) error {
	p, err := compiler.NewCompiler(compiler.WithProgram(s.prog)).Compile(input)
	if err != nil {
		return err
	}
	// Declarations stay even if the run below fails.
	s.prog = p

	opts := append([]vm.Option{}, s.opts...)
	opts = append(opts, vm.WithOutput(s.out), vm.WithGlobals(s.globals))
	machine := vm.New(p, opts...)
	if err := machine.Run(ctx); err != nil {
		return err
	}

	if stack := machine.Stack(); len(stack) > 0 {
		parts := make([]string, len(stack))
		for i, v := range stack {
			parts[i] = v.Repr()
		}
		fmt.Fprintf(s.out, "=> %s\n", strings.Join(parts, " "))
	}
	return nil
}

// metaCommands are the ':' words the REPL handles itself. Any other line
// starting with ':' is a function declaration.
var metaCommands = map[string]bool{
	":help": true, ":h": true, ":?": true,
	":dis": true, ":globals": true, ":reset": true,
	":quit": true, ":q": true,
}

// isCommand reports whether line is a REPL meta-command.
func isCommand(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && metaCommands[fields[0]]
}

// dispatch routes one logical input to a meta-command or to eval and
// reports whether the REPL should exit.
func (s *session) dispatch(ctx context.Context, input string) (exit bool, err error) {
	trimmed := strings.TrimSpace(input)
	switch {
	case trimmed == "":
		return false, nil
	case trimmed == "exit" || trimmed == "quit":
		return true, nil
	case isCommand(trimmed):
		return s.command(trimmed), nil
	}
	return false, s.eval(ctx, input)
}

// command runs a ':' meta-command and reports whether the REPL should exit.
func (s *session) command(line string) (exit bool) {
	word, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch word {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.out, "REPL Commands:")
		fmt.Fprintln(s.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(s.out, "  :dis              Disassemble the session program")
		fmt.Fprintln(s.out, "  :globals          List global bindings")
		fmt.Fprintln(s.out, "  :reset            Forget all functions and globals")
		fmt.Fprintln(s.out, "  exit, quit        Exit REPL")
	case ":dis":
		fmt.Fprint(s.out, vm.Disassemble(s.prog))
	case ":globals":
		names := make([]string, 0, len(s.globals))
		for name := range s.globals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(s.out, "%s = %s\n", name, s.globals[name].Repr())
		}
	case ":reset":
		s.reset()
		fmt.Fprintln(s.out, "Session reset")
	case ":quit", ":q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type :help for commands)\n", line)
	}
	return false
}

// incomplete reports whether more input could complete src.
func incomplete(src string) bool {
	_, err := compiler.Parse(src)
	return errors.Is(err, compiler.ErrUnterminatedString)
}

// repl handles `postc repl`.
func (c *cli) repl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	limits, err := c.vmFlags(fs)
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(c.stdout, "PostC REPL (type 'exit' to quit, ':help' for commands)")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(completeWord)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := newSession(c.stdout, limits.options()...)
	ctx := context.Background()
	for {
		input, ok := readInput(ln)
		if !ok {
			fmt.Fprintln(c.stdout)
			return nil
		}
		if strings.TrimSpace(input) != "" {
			ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))
		}
		exit, err := s.dispatch(ctx, input)
		if err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
		}
		if exit {
			return nil
		}
	}
}

// readInput reads one logical input, continuing across lines while a string
// literal is open. ok is false at end of input.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// Ctrl-C discards the pending input.
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

// completeWord offers keywords and builtins for the last word of line.
func completeWord(line string) []string {
	start := strings.LastIndexAny(line, " \t") + 1
	prefix := line[start:]
	if prefix == "" {
		return nil
	}
	words := append(compiler.Keywords(), compiler.Builtins()...)
	sort.Strings(words)

	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		if strings.HasPrefix(w, prefix) && !seen[w] {
			seen[w] = true
			out = append(out, line[:start]+w)
		}
	}
	return out
}
