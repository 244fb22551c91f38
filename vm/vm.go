package vm

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultMaxCallDepth bounds nested calls unless overridden.
const DefaultMaxCallDepth = 10000

// DefaultMaxArraySize bounds CREATE_ARRAY unless overridden.
const DefaultMaxArraySize = 1 << 24

// cancelCheckInterval is how many dispatches run between context checks.
const cancelCheckInterval = 1024

// ---------------------------------------------------------------------------
// VM: the PostC stack machine
// ---------------------------------------------------------------------------

// VM executes a Program. A VM is not safe for concurrent use; separate VMs
// share nothing and may run in parallel.
type VM struct {
	program *Program
	globals map[string]Value

	stack  []Value
	frames []*Frame

	out  io.Writer
	in   *bufio.Reader
	fsys fs.FS

	stepLimit    int64
	timeout      time.Duration
	maxCallDepth int
	maxArray     int64
	trace        bool
	log          commonlog.Logger

	steps int64
}

// Frame is one activation record on the call stack.
type Frame struct {
	fn     *Function
	pc     int
	bp     int
	locals map[string]Value
}

// Function returns the function the frame is executing.
func (f *Frame) Function() *Function { return f.fn }

// PC returns the frame's program counter.
func (f *Frame) PC() int { return f.pc }

// Option configures a VM.
type Option func(*VM)

// WithOutput directs PRINT to w.
func WithOutput(w io.Writer) Option {
	return func(v *VM) { v.out = w }
}

// WithInput makes READ_STDIN read lines from r.
func WithInput(r io.Reader) Option {
	return func(v *VM) { v.in = bufio.NewReader(r) }
}

// WithFS resolves READ_FILE paths inside fsys instead of the host filesystem.
func WithFS(fsys fs.FS) Option {
	return func(v *VM) { v.fsys = fsys }
}

// WithStepLimit aborts execution after n dispatched instructions. Zero means
// unlimited.
func WithStepLimit(n int64) Option {
	return func(v *VM) { v.stepLimit = n }
}

// WithTimeout aborts execution after d of wall-clock time. Zero means no
// timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *VM) { v.timeout = d }
}

// WithMaxCallDepth bounds the call stack.
func WithMaxCallDepth(n int) Option {
	return func(v *VM) { v.maxCallDepth = n }
}

// WithMaxArraySize bounds the slot count CREATE_ARRAY accepts. Values
// below one keep DefaultMaxArraySize.
func WithMaxArraySize(n int64) Option {
	return func(v *VM) {
		if n > 0 {
			v.maxArray = n
		}
	}
}

// WithTrace logs every dispatched instruction at debug level.
func WithTrace(on bool) Option {
	return func(v *VM) { v.trace = on }
}

// WithLogger replaces the default "postc.vm" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(v *VM) { v.log = l }
}

// WithGlobals shares an existing global table, so bindings survive across
// runs (the REPL relies on this).
func WithGlobals(g map[string]Value) Option {
	return func(v *VM) { v.globals = g }
}

// New creates a VM for p.
func New(p *Program, opts ...Option) *VM {
	v := &VM{
		program:      p,
		out:          os.Stdout,
		maxCallDepth: DefaultMaxCallDepth,
		maxArray:     DefaultMaxArraySize,
		log:          commonlog.GetLogger("postc.vm"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.globals == nil {
		v.globals = make(map[string]Value)
	}
	if v.in == nil {
		v.in = bufio.NewReader(os.Stdin)
	}
	return v
}

// Program returns the program the VM executes.
func (v *VM) Program() *Program { return v.program }

// Globals returns the global binding table.
func (v *VM) Globals() map[string]Value { return v.globals }

// Stack returns a copy of the operand stack, bottom first.
func (v *VM) Stack() []Value {
	return append([]Value(nil), v.stack...)
}

// Steps returns the number of instructions dispatched by the last Run.
func (v *VM) Steps() int64 { return v.steps }

// Run executes main to completion. The operand and call stacks are reset;
// globals are kept.
func (v *VM) Run(ctx context.Context) error {
	main, ok := v.program.Function(MainFunction)
	if !ok {
		return &RuntimeError{Err: ErrUnknownFunction, Function: MainFunction, Detail: MainFunction}
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	v.stack = v.stack[:0]
	v.frames = v.frames[:0]
	v.steps = 0
	v.frames = append(v.frames, &Frame{fn: main, locals: v.globals})

	v.log.Debugf("run: %d functions, %d constants", len(v.program.Functions), len(v.program.Constants))
	start := time.Now()
	err := v.loop(ctx)
	if err != nil {
		v.log.Infof("run failed after %d steps: %s", v.steps, err)
		return err
	}
	v.log.Infof("run finished: %d steps in %s", v.steps, time.Since(start))
	return nil
}

// push and pop operate on the shared operand stack.

func (v *VM) push(val Value) {
	v.stack = append(v.stack, val)
}

func (v *VM) pop() (Value, error) {
	n := len(v.stack)
	if n == 0 {
		return nil, &fault{kind: ErrStackUnderflow}
	}
	val := v.stack[n-1]
	v.stack[n-1] = nil
	v.stack = v.stack[:n-1]
	return val, nil
}

// need fails with underflow unless n values are available.
func (v *VM) need(op Opcode, n int) error {
	if len(v.stack) < n {
		return faultf(ErrStackUnderflow, "%s needs %d values, stack has %d", op, n, len(v.stack))
	}
	return nil
}

// popN pops n values and returns them in push order (deepest first).
func (v *VM) popN(op Opcode, n int) ([]Value, error) {
	if err := v.need(op, n); err != nil {
		return nil, err
	}
	base := len(v.stack) - n
	vals := make([]Value, n)
	copy(vals, v.stack[base:])
	for i := base; i < len(v.stack); i++ {
		v.stack[i] = nil
	}
	v.stack = v.stack[:base]
	return vals, nil
}

func (v *VM) top() *Frame {
	return v.frames[len(v.frames)-1]
}
