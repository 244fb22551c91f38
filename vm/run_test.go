package vm_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/vm"
)

// exec compiles and runs source, returning what it printed.
func exec(t *testing.T, source string, opts ...vm.Option) (string, *vm.VM, error) {
	t.Helper()
	p, err := compiler.Compile(source)
	if err != nil {
		t.Fatalf("compile %q: %v", source, err)
	}
	var out bytes.Buffer
	opts = append([]vm.Option{vm.WithOutput(&out)}, opts...)
	v := vm.New(p, opts...)
	err = v.Run(context.Background())
	return out.String(), v, err
}

func lines(vals ...string) string {
	return strings.Join(vals, "\n") + "\n"
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"add", `5 3 + print`, lines("8")},
		{"int division floors", `7 2 / print  0 7 - 2 / print`, lines("3", "-4")},
		{"float division", `7.0 2 / print`, lines("3.5")},
		{"mixed arithmetic", `1 0.5 + print  2 3 * print`, lines("1.5", "6")},
		{"comparison", `1 2 < print  2.5 2 >= print  3 3 <= print`, lines("true", "true", "true")},
		{"equality", `1 1.0 == print  true 1 == print  "a" "a" != print`, lines("true", "false", "false")},
		{"strings print bare", `"hi there" print`, lines("hi there")},
		{"truthiness", `if "" do 1 print else 2 print ;  if 0.5 do 3 print ;`, lines("2", "3")},
		{"variables", `let x 4 ; var y x 2 * ; y print`, lines("8")},
		{"empty initializer", `let z ; z print`, lines("0")},
		{
			"while loop",
			`var i 0 ; while i 3 < do i print let i i 1 + ; ;`,
			lines("0", "1", "2"),
		},
		{"for loop", `3 for "hi" print ;`, lines("hi", "hi", "hi")},
		{"for zero times", `0 for "never" print ; "done" print`, lines("done")},
		{"nested for", `2 for 2 for "x" print ; ;`, lines("x", "x", "x", "x")},
		{
			"factorial",
			`:fact 1 param if dup 1 <= do drop 1 else dup 1 - fact * ; ; 5 fact print`,
			lines("120"),
		},
		{"two-arg function", `:add 2 param + ; 5 3 add print`, lines("8")},
		{"arg binding", `:second 2 param arg1 ; 10 20 second print`, lines("20")},
		{"void call", `:greet 0 param "hi" print ; greet 1 print`, lines("hi", "1")},
		{
			"early return",
			`:f 1 param if dup 0 < do drop 0 return ; 10 * ; 0 3 - f print 4 f print`,
			lines("0", "40"),
		},
		{"forward call", `:a 0 param b ; :b 0 param 7 ; a print`, lines("7")},
		{"functions see globals", `let g 7 ; :f 0 param g ; f print`, lines("7")},
		{
			"arrays",
			`3 create_array 0 10 store_array 2 "z" store_array dup 0 load_array print dup 2 load_array print array_length print`,
			lines("10", "z", "3"),
		},
		{
			"dictionaries",
			`create_dict "a" 1 store_dict 2 "two" store_dict dup "a" load_dict print dup 2.0 load_dict print dup "z" dict_has_key print dict_length print`,
			lines("1", "two", "false", "2"),
		},
		{
			"strings",
			`"hello" 1 3 substring print  "hello" "ll" indexof print  "hello" "q" string_indexof print  "ab" "cd" concat print  "hello" string_length print`,
			lines("ell", "2", "-1", "abcd", "5"),
		},
		{"print collection", `2 create_array 1 7 store_array print`, lines("[<empty>, 7]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := exec(t, tt.source)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestStackShuffles(t *testing.T) {
	tests := []struct {
		source string
		want   []vm.Value
	}{
		{`1 dup`, []vm.Value{vm.Int(1), vm.Int(1)}},
		{`1 2 drop`, []vm.Value{vm.Int(1)}},
		{`1 2 swap`, []vm.Value{vm.Int(2), vm.Int(1)}},
		{`1 2 over`, []vm.Value{vm.Int(1), vm.Int(2), vm.Int(1)}},
		{`1 2 3 rot`, []vm.Value{vm.Int(2), vm.Int(3), vm.Int(1)}},
		{`1 2 swap swap`, []vm.Value{vm.Int(1), vm.Int(2)}},
		{`1 2 3 rot rot rot`, []vm.Value{vm.Int(1), vm.Int(2), vm.Int(3)}},
	}
	for _, tt := range tests {
		_, v, err := exec(t, tt.source)
		if err != nil {
			t.Fatalf("%s: %v", tt.source, err)
		}
		got := v.Stack()
		if len(got) != len(tt.want) {
			t.Fatalf("%s: stack = %v, want %v", tt.source, got, tt.want)
		}
		for i := range got {
			if !vm.Equal(got[i], tt.want[i]) {
				t.Errorf("%s: stack = %v, want %v", tt.source, got, tt.want)
				break
			}
		}
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kind   error
	}{
		{"division by zero", `1 0 /`, vm.ErrDivisionByZero},
		{"float division by zero", `1.5 0.0 /`, vm.ErrDivisionByZero},
		{"undefined variable", `x print`, vm.ErrUndefinedVariable},
		{"type mismatch", `"a" 1 +`, vm.ErrTypeMismatch},
		{"compare strings", `"a" "b" <`, vm.ErrTypeMismatch},
		{"underflow", `print`, vm.ErrStackUnderflow},
		{"array out of bounds", `2 create_array 5 load_array`, vm.ErrIndexOutOfRange},
		{"index equal to size", `3 create_array 3 load_array`, vm.ErrIndexOutOfRange},
		{"negative index", `2 create_array 0 1 - 0 store_array`, vm.ErrIndexOutOfRange},
		{"uninitialized slot", `2 create_array 1 load_array`, vm.ErrUninitializedSlot},
		{"negative size", `0 1 - create_array`, vm.ErrInvalidArraySize},
		{"oversized array", `9223372036854775807 create_array`, vm.ErrInvalidArraySize},
		{"missing key", `create_dict "z" load_dict`, vm.ErrKeyNotFound},
		{"collection key", `create_dict 1 create_array 0 store_dict`, vm.ErrTypeMismatch},
		{"substring range", `"hello" 3 5 substring`, vm.ErrIndexOutOfRange},
		{"substring start past end", `"hello" 10 1 substring`, vm.ErrIndexOutOfRange},
		{"substring length overflows", `"hello" 1 9223372036854775807 substring print`, vm.ErrIndexOutOfRange},
		{"locals do not leak", `:f 0 param let y 1 ; ; f y print`, vm.ErrUndefinedVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := exec(t, tt.source)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestRuntimeErrorLine(t *testing.T) {
	_, _, err := exec(t, "1 print\n1 0 /")
	var rt *vm.RuntimeError
	if !errors.As(err, &rt) {
		t.Fatalf("err = %v", err)
	}
	if rt.Line != 2 || rt.Function != vm.MainFunction {
		t.Errorf("error at %s line %d, want main line 2", rt.Function, rt.Line)
	}
}

func TestReadStdin(t *testing.T) {
	out, _, err := exec(t, `read_stdin print read_stdin print`, vm.WithInput(strings.NewReader("one\r\ntwo")))
	if err != nil {
		t.Fatal(err)
	}
	if out != lines("one", "two") {
		t.Errorf("output = %q", out)
	}

	_, _, err = exec(t, `read_stdin read_stdin`, vm.WithInput(strings.NewReader("only\n")))
	if !errors.Is(err, vm.ErrEndOfInput) {
		t.Errorf("err = %v, want end of input", err)
	}
}

func TestReadFile(t *testing.T) {
	fsys := fstest.MapFS{
		"data.txt": {Data: []byte("file contents")},
		"blob.bin": {Data: []byte{0xff, 0xfe, 0x00}},
	}

	out, _, err := exec(t, `"data.txt" read_file print`, vm.WithFS(fsys))
	if err != nil {
		t.Fatal(err)
	}
	if out != lines("file contents") {
		t.Errorf("output = %q", out)
	}

	_, _, err = exec(t, `"missing.txt" read_file`, vm.WithFS(fsys))
	if !errors.Is(err, vm.ErrFileNotFound) {
		t.Errorf("missing file: %v", err)
	}
	_, _, err = exec(t, `"blob.bin" read_file`, vm.WithFS(fsys))
	if !errors.Is(err, vm.ErrFileNotText) {
		t.Errorf("binary file: %v", err)
	}
	_, _, err = exec(t, `5 read_file`, vm.WithFS(fsys))
	if !errors.Is(err, vm.ErrTypeMismatch) {
		t.Errorf("non-string path: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Execution limits
// ---------------------------------------------------------------------------

func TestStepLimit(t *testing.T) {
	_, v, err := exec(t, `while true do 1 drop ;`, vm.WithStepLimit(100))
	if !errors.Is(err, vm.ErrStepLimitExceeded) {
		t.Fatalf("err = %v", err)
	}
	if v.Steps() != 100 {
		t.Errorf("Steps = %d, want 100", v.Steps())
	}
}

func TestCancelledContext(t *testing.T) {
	p, err := compiler.Compile(`while true do ;`)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = vm.New(p).Run(ctx)
	if !errors.Is(err, vm.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestTimeout(t *testing.T) {
	_, _, err := exec(t, `while true do ;`, vm.WithTimeout(20*time.Millisecond))
	if !errors.Is(err, vm.ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestMaxCallDepth(t *testing.T) {
	_, _, err := exec(t, `:r 0 param r ; r`, vm.WithMaxCallDepth(50))
	if !errors.Is(err, vm.ErrCallDepthExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestMaxArraySize(t *testing.T) {
	out, _, err := exec(t, `4 create_array array_length print`, vm.WithMaxArraySize(4))
	if err != nil || out != "4\n" {
		t.Fatalf("out = %q, err = %v", out, err)
	}
	_, _, err = exec(t, `5 create_array`, vm.WithMaxArraySize(4))
	if !errors.Is(err, vm.ErrInvalidArraySize) {
		t.Errorf("err = %v, want %v", err, vm.ErrInvalidArraySize)
	}
}

// ---------------------------------------------------------------------------
// Persistent globals
// ---------------------------------------------------------------------------

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	globals := make(map[string]vm.Value)

	_, _, err := exec(t, `let x 5 ;`, vm.WithGlobals(globals))
	if err != nil {
		t.Fatal(err)
	}
	if globals["x"] != vm.Int(5) {
		t.Fatalf("globals = %v", globals)
	}

	out, _, err := exec(t, `x 1 + print`, vm.WithGlobals(globals))
	if err != nil {
		t.Fatal(err)
	}
	if out != lines("6") {
		t.Errorf("output = %q", out)
	}
}

func TestIncrementalCompile(t *testing.T) {
	c := compiler.NewCompiler()
	globals := make(map[string]vm.Value)

	for _, step := range []struct{ source, want string }{
		{`:sq 1 param dup * ;`, ""},
		{`let n 3 ;`, ""},
		{`n sq print`, lines("9")},
	} {
		p, err := c.Compile(step.source)
		if err != nil {
			t.Fatalf("compile %q: %v", step.source, err)
		}
		var out bytes.Buffer
		if err := vm.New(p, vm.WithOutput(&out), vm.WithGlobals(globals)).Run(context.Background()); err != nil {
			t.Fatalf("run %q: %v", step.source, err)
		}
		if out.String() != step.want {
			t.Errorf("%q printed %q, want %q", step.source, out.String(), step.want)
		}
	}
}
