package dist

import (
	"sort"

	"github.com/chazu/postc/vm"
)

// Reachable returns the names of the functions reachable from main through
// CALL instructions, main first and the rest sorted.
func Reachable(p *vm.Program) []string {
	seen := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		fn, ok := p.Functions[name]
		if !ok {
			return
		}
		seen[name] = true
		for _, ins := range fn.Instructions {
			if ins.Op != vm.OpCall {
				continue
			}
			idx, ok := ins.Operand.Index()
			if !ok {
				continue
			}
			if c, ok := p.Constant(idx); ok {
				if s, ok := c.(vm.String); ok {
					walk(string(s))
				}
			}
		}
	}
	walk(vm.MainFunction)

	var names []string
	for name := range seen {
		if name != vm.MainFunction {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if seen[vm.MainFunction] {
		names = append([]string{vm.MainFunction}, names...)
	}
	return names
}

// Strip returns a copy of p without the functions main can never call. The
// constant pool is kept as is so operand indexes stay valid.
func Strip(p *vm.Program) *vm.Program {
	out := p.Clone()
	keep := make(map[string]bool)
	for _, name := range Reachable(p) {
		keep[name] = true
	}
	for name := range out.Functions {
		if !keep[name] {
			delete(out.Functions, name)
		}
	}
	return out
}
