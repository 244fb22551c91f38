package vm

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Disassemble returns a human-readable listing of p: the constant pool, then
// every function with resolved operands and source lines.
func Disassemble(p *Program) string {
	var sb strings.Builder

	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			display := c.Repr()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			fmt.Fprintf(&sb, ";   [%3d] %-6s %s\n", i, c.Kind(), display)
		}
		sb.WriteString("\n")
	}

	for i, name := range p.FunctionNames() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(DisassembleFunction(p, p.Functions[name]))
	}
	return sb.String()
}

// DisassembleFunction returns the listing of a single function.
func DisassembleFunction(p *Program, fn *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; === %s (%d params) ===\n", fn.Name, fn.ParamCount)
	for pc, ins := range fn.Instructions {
		fmt.Fprintf(&sb, "%04d  %-18s", pc, ins)
		if comment := operandComment(p, ins); comment != "" {
			fmt.Fprintf(&sb, " ; %s", comment)
		}
		if ins.Line > 0 {
			fmt.Fprintf(&sb, "  (line %d)", ins.Line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func operandComment(p *Program, ins Instruction) string {
	switch ins.Op.Info().Operand {
	case OperandConst:
		idx, ok := ins.Operand.Index()
		if !ok {
			return "bad operand"
		}
		c, ok := p.Constant(idx)
		if !ok {
			return "bad constant"
		}
		return c.Repr()
	case OperandTarget:
		return "-> " + ins.Operand.String()
	}
	return ""
}

// ---------------------------------------------------------------------------
// YAML listing
// ---------------------------------------------------------------------------

type listing struct {
	Constants []listingConstant `yaml:"constants"`
	Functions []listingFunction `yaml:"functions"`
}

type listingConstant struct {
	Index int    `yaml:"index"`
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type listingFunction struct {
	Name         string               `yaml:"name"`
	ParamCount   int                  `yaml:"param_count"`
	Instructions []listingInstruction `yaml:"instructions"`
}

type listingInstruction struct {
	PC      int    `yaml:"pc"`
	Op      string `yaml:"op"`
	Operand string `yaml:"operand,omitempty"`
	Refers  string `yaml:"refers,omitempty"`
	Line    int    `yaml:"line,omitempty"`
}

// DisassembleYAML renders the listing as a YAML document.
func DisassembleYAML(p *Program) ([]byte, error) {
	var l listing
	for i, c := range p.Constants {
		l.Constants = append(l.Constants, listingConstant{Index: i, Kind: c.Kind().String(), Value: c.Repr()})
	}
	for _, name := range p.FunctionNames() {
		fn := p.Functions[name]
		lf := listingFunction{Name: fn.Name, ParamCount: fn.ParamCount}
		for pc, ins := range fn.Instructions {
			lf.Instructions = append(lf.Instructions, listingInstruction{
				PC:      pc,
				Op:      ins.Op.Name(),
				Operand: ins.Operand.String(),
				Refers:  operandComment(p, ins),
				Line:    ins.Line,
			})
		}
		l.Functions = append(l.Functions, lf)
	}
	return yaml.Marshal(&l)
}
