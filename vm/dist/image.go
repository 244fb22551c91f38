// Package dist implements the binary bytecode image for PostC: a compiled
// program encoded as canonical CBOR together with a SHA-256 content hash and
// the capabilities the program needs from its host.
package dist

// FormatVersion is written into every image.
const FormatVersion = 1

// Image is the on-disk form of a program. Functions are ordered main first,
// then by name, so that encoding is deterministic.
type Image struct {
	Version    uint8               `cbor:"1,keyasint"`
	Hash       [32]byte            `cbor:"2,keyasint"`
	Constants  []Constant          `cbor:"3,keyasint"`
	Functions  []Function          `cbor:"4,keyasint"`
	Capability *CapabilityManifest `cbor:"5,keyasint,omitempty"`
}

// Constant is one constant pool entry. Kind selects the meaningful field.
type Constant struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Str   string  `cbor:"4,keyasint,omitempty"`
	Bool  bool    `cbor:"5,keyasint,omitempty"`
}

// Function is a compiled function.
type Function struct {
	Name       string        `cbor:"1,keyasint"`
	ParamCount int           `cbor:"2,keyasint"`
	Code       []Instruction `cbor:"3,keyasint"`
}

// Instruction keeps the operand's type so that string operands survive,
// unlike the JSON image.
type Instruction struct {
	Op          uint8   `cbor:"1,keyasint"`
	OperandType uint8   `cbor:"2,keyasint,omitempty"`
	Int         int64   `cbor:"3,keyasint,omitempty"`
	Float       float64 `cbor:"4,keyasint,omitempty"`
	Str         string  `cbor:"5,keyasint,omitempty"`
	Line        int     `cbor:"6,keyasint,omitempty"`
}

// CapabilityManifest declares what a program needs from its host.
type CapabilityManifest struct {
	Required []string `cbor:"1,keyasint"` // e.g. "stdout", "stdin", "file"
}
