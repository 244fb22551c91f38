package dist

import (
	"fmt"
	"sort"

	"github.com/chazu/postc/vm"
)

// Host capabilities a program can require.
const (
	CapStdout = "stdout"
	CapStdin  = "stdin"
	CapFile   = "file"
)

var opcodeCapabilities = map[vm.Opcode]string{
	vm.OpPrint:     CapStdout,
	vm.OpReadStdin: CapStdin,
	vm.OpReadFile:  CapFile,
}

// RequiredCapabilities lists, sorted, the capabilities used by any function
// of p.
func RequiredCapabilities(p *vm.Program) []string {
	seen := make(map[string]bool)
	for _, fn := range p.Functions {
		for _, ins := range fn.Instructions {
			if c, ok := opcodeCapabilities[ins.Op]; ok {
				seen[c] = true
			}
		}
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// CapabilityPolicy controls which capabilities a program may use before it
// is run. A nil AllowedCapabilities means "allow all".
type CapabilityPolicy struct {
	AllowedCapabilities map[string]bool // nil = allow all
	DeniedCapabilities  map[string]bool
}

// NewPermissivePolicy creates a policy that allows all capabilities.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the specified
// capabilities.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	m := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		m[c] = true
	}
	return &CapabilityPolicy{AllowedCapabilities: m}
}

// Check verifies that all capabilities required by a manifest are allowed
// by this policy.
func (p *CapabilityPolicy) Check(manifest *CapabilityManifest) error {
	if manifest == nil {
		return nil
	}
	for _, c := range manifest.Required {
		if p.DeniedCapabilities != nil && p.DeniedCapabilities[c] {
			return fmt.Errorf("dist: capability %q is explicitly denied", c)
		}
		if p.AllowedCapabilities != nil && !p.AllowedCapabilities[c] {
			return fmt.Errorf("dist: capability %q is not allowed", c)
		}
	}
	return nil
}

// CheckProgram applies the policy to the capabilities p requires.
func (p *CapabilityPolicy) CheckProgram(prog *vm.Program) error {
	return p.Check(&CapabilityManifest{Required: RequiredCapabilities(prog)})
}

// Deny adds a capability to the deny list.
func (p *CapabilityPolicy) Deny(c string) {
	if p.DeniedCapabilities == nil {
		p.DeniedCapabilities = make(map[string]bool)
	}
	p.DeniedCapabilities[c] = true
}
