package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/manifest"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// postc runs the CLI inside dir.
func postc(t *testing.T, dir, stdin string, args ...string) result {
	t.Helper()
	t.Chdir(dir)
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const squares = `:sq 1 param dup * ;
:unused 0 param 0 ;
3 sq print
4 sq print`

func TestRunSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sq.pc", squares)

	r := postc(t, dir, "", "run", "-no-cache", "sq.pc")
	assert.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "9\n16\n", r.stdout)
}

func TestRunManifestEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, manifest.FileName, "[build]\nentry = \"src/app.pc\"\n\n[cache]\npath = \"build/cache.db\"\n")
	writeFile(t, dir, "src/app.pc", `"from manifest" print`)

	r := postc(t, dir, "", "run")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "from manifest\n", r.stdout)
	assert.FileExists(t, filepath.Join(dir, "build", "cache.db"))

	// The second run is served from the cache.
	r = postc(t, dir, "", "run")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "from manifest\n", r.stdout)

	r = postc(t, dir, "", "cache", "stats")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "entries: 1")
	assert.Contains(t, r.stdout, "hits:    1")

	r = postc(t, dir, "", "cache", "prune", "-older-than", "0")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "pruned 1 entries\n", r.stdout)
}

func TestRunReadsStdin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.pc", `read_stdin print`)

	r := postc(t, dir, "hello\n", "run", "-no-cache", "echo.pc")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "hello\n", r.stdout)
}

func TestCompileAndRunImages(t *testing.T) {
	for _, format := range []string{manifest.FormatJSON, manifest.FormatCBOR} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "a.pc", `1 2 + print`)
			writeFile(t, dir, "b.pc", squares)

			r := postc(t, dir, "", "compile", "-format", format, "a.pc", "b.pc")
			require.Equal(t, 0, r.code, r.stderr)

			for name, want := range map[string]string{"a": "3\n", "b": "9\n16\n"} {
				image := outputFor(name+".pc", format)
				require.FileExists(t, filepath.Join(dir, image))
				r = postc(t, dir, "", "run", image)
				require.Equal(t, 0, r.code, r.stderr)
				assert.Equal(t, want, r.stdout)
			}
		})
	}
}

func TestCompileOutputFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pc", `1 print`)
	writeFile(t, dir, "b.pc", `2 print`)

	r := postc(t, dir, "", "compile", "-o", "out/prog.json", "a.pc")
	assert.NotEqual(t, 0, r.code, "output directory does not exist")

	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0o755))
	r = postc(t, dir, "", "compile", "-o", "out/prog.json", "a.pc")
	require.Equal(t, 0, r.code, r.stderr)
	assert.FileExists(t, filepath.Join(dir, "out", "prog.json"))

	r = postc(t, dir, "", "compile", "-o", "x.json", "a.pc", "b.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "-o cannot be used with 2 inputs")
}

func TestCompileStrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sq.pc", squares)

	r := postc(t, dir, "", "compile", "-strip", "sq.pc")
	require.Equal(t, 0, r.code, r.stderr)

	r = postc(t, dir, "", "disasm", "sq.json")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "; === main (0 params) ===")
	assert.Contains(t, r.stdout, "; === sq (1 params) ===")
	assert.NotContains(t, r.stdout, "; === unused")
}

func TestCompileError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.pc", "1 print\n\"open")

	r := postc(t, dir, "", "compile", "bad.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Error: bad.pc: lexical error at line 2")
	assert.NoFileExists(t, filepath.Join(dir, "bad.json"))
}

func TestRunCapabilityPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.pc", `"x" print`)

	r := postc(t, dir, "", "run", "-no-cache", "-deny", "stdout", "p.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `capability "stdout" is explicitly denied`)
	assert.Empty(t, r.stdout)

	r = postc(t, dir, "", "run", "-no-cache", "-allow", "stdin,file", "p.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `capability "stdout" is not allowed`)

	r = postc(t, dir, "", "run", "-no-cache", "-allow", "stdout", "p.pc")
	assert.Equal(t, 0, r.code, r.stderr)
}

func TestRunLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "loop.pc", `while true do 1 drop ;`)

	r := postc(t, dir, "", "run", "-no-cache", "-max-steps", "50", "loop.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "step limit")

	writeFile(t, dir, manifest.FileName, "[run]\nmax-steps = 20\n")
	r = postc(t, dir, "", "run", "-no-cache", "loop.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "step limit")
}

func TestRunRuntimeError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "div.pc", "1\n0 /")

	r := postc(t, dir, "", "run", "-no-cache", "div.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Error: runtime error at line 2")
	assert.Contains(t, r.stderr, "division by zero")
}

func TestWasmCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sq.pc", squares)

	r := postc(t, dir, "", "wasm", "sq.pc")
	require.Equal(t, 0, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "(module\n"))
	assert.Contains(t, r.stdout, `(func $sq (export "sq")`)

	r = postc(t, dir, "", "wasm", "-o", "sq.wat", "sq.pc")
	require.Equal(t, 0, r.code, r.stderr)
	data, err := os.ReadFile(filepath.Join(dir, "sq.wat"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `(export "_start")`)
}

func TestDisasmYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pc", `1 2 + print`)

	r := postc(t, dir, "", "disasm", "-format", "yaml", "a.pc")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "main")

	r = postc(t, dir, "", "disasm", "-format", "xml", "a.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `unknown format "xml"`)
}

func TestUsageAndUnknownCommands(t *testing.T) {
	dir := t.TempDir()

	r := postc(t, dir, "")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "Usage: postc")

	r = postc(t, dir, "", "help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "Commands:")

	r = postc(t, dir, "", "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, `unknown command "frobnicate"`)

	r = postc(t, dir, "", "cache", "shrink")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `unknown cache subcommand "shrink"`)

	r = postc(t, dir, "", "run", "a.pc", "b.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "at most one file")
}

func TestBadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, manifest.FileName, "[build]\nformat = \"xml\"\n")

	r := postc(t, dir, "", "run", "x.pc")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Error loading manifest")
}

func TestOutputFor(t *testing.T) {
	assert.Equal(t, "dir/a.json", outputFor("dir/a.pc", manifest.FormatJSON))
	assert.Equal(t, "a.pcb", outputFor("a.pc", manifest.FormatCBOR))
	assert.Equal(t, "noext.json", outputFor("noext", manifest.FormatJSON))
}

// ---------------------------------------------------------------------------
// REPL session
// ---------------------------------------------------------------------------

func TestSessionPersistsDeclarations(t *testing.T) {
	var out bytes.Buffer
	s := newSession(&out)
	ctx := context.Background()

	require.NoError(t, s.eval(ctx, `:sq 1 param dup * ;`))
	require.NoError(t, s.eval(ctx, `var n 7 ;`))
	require.NoError(t, s.eval(ctx, `n sq print`))
	require.NoError(t, s.eval(ctx, `n 1 +`))
	assert.Equal(t, "49\n=> 8\n", out.String())

	out.Reset()
	s.command(":globals")
	assert.Equal(t, "n = 7\n", out.String())

	out.Reset()
	s.command(":dis")
	assert.Contains(t, out.String(), "; === sq (1 params) ===")
}

func TestSessionErrors(t *testing.T) {
	var out bytes.Buffer
	s := newSession(&out)
	ctx := context.Background()

	err := s.eval(ctx, `let ;`)
	var cerr *compiler.Error
	require.ErrorAs(t, err, &cerr)

	// A failed run keeps the functions declared by the same input.
	err = s.eval(ctx, `:half 1 param 2 / ; 1 0 /`)
	require.Error(t, err)
	require.NoError(t, s.eval(ctx, `10 half print`))
	assert.Equal(t, "5\n", out.String())
}

func TestSessionCommands(t *testing.T) {
	var out bytes.Buffer
	s := newSession(&out)
	require.NoError(t, s.eval(context.Background(), `let x 1 ;`))

	assert.False(t, s.command(":reset"))
	assert.Empty(t, s.globals)
	assert.Len(t, s.prog.Functions, 0)

	out.Reset()
	assert.False(t, s.command(":help"))
	assert.Contains(t, out.String(), ":globals")

	out.Reset()
	assert.False(t, s.command(":bogus"))
	assert.Contains(t, out.String(), "Unknown command: :bogus")

	assert.True(t, s.command(":quit"))
}

func TestSessionDispatch(t *testing.T) {
	var out bytes.Buffer
	s := newSession(&out)
	ctx := context.Background()

	tests := []struct {
		input string
		exit  bool
		want  string
	}{
		{`:sq 1 param dup * ;`, false, ""},
		{`  `, false, ""},
		{`4 sq print`, false, "16\n"},
		{`:dis`, false, "; === sq (1 params) ==="},
		{`:help`, false, "REPL Commands:"},
		{`quit`, true, ""},
		{`:q`, true, ""},
	}
	for _, tt := range tests {
		out.Reset()
		exit, err := s.dispatch(ctx, tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.exit, exit, tt.input)
		if tt.want == "" {
			assert.Empty(t, out.String(), tt.input)
		} else {
			assert.Contains(t, out.String(), tt.want, tt.input)
		}
	}
	assert.Contains(t, s.prog.Functions, "sq")
}

func TestIsCommand(t *testing.T) {
	assert.True(t, isCommand(":globals"))
	assert.True(t, isCommand(":h "))
	assert.False(t, isCommand(":sq 1 param dup * ;"))
	assert.False(t, isCommand(":dissect 0 param ;"))
	assert.False(t, isCommand(""))
}

func TestIncomplete(t *testing.T) {
	assert.True(t, incomplete(`"open`))
	assert.False(t, incomplete(`"closed" print`))
	assert.False(t, incomplete(`let ;`))
}

func TestCompleteWord(t *testing.T) {
	assert.Equal(t, []string{
		"1 string_concat",
		"1 string_indexof",
		"1 string_length",
		"1 string_substring",
	}, completeWord("1 string_"))
	assert.Contains(t, completeWord("wh"), "while")
	assert.Nil(t, completeWord("1 "))
}
