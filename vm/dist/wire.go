package dist

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/chazu/postc/vm"
	"github.com/fxamacker/cbor/v2"
)

// ErrHashMismatch is returned when an image's declared hash does not match
// its contents.
var ErrHashMismatch = errors.New("dist: hash mismatch")

// Magic prefixes every encoded image so it can be told apart from the JSON
// form.
var Magic = []byte("PCB\x01")

// cborEncMode is canonical so that equal programs encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// NewImage converts p to its image form and computes its hash.
func NewImage(p *vm.Program) (*Image, error) {
	img := &Image{Version: FormatVersion}
	for i, c := range p.Constants {
		ec, err := encodeConstant(c)
		if err != nil {
			return nil, fmt.Errorf("dist: constant %d: %w", i, err)
		}
		img.Constants = append(img.Constants, ec)
	}
	for _, name := range p.FunctionNames() {
		fn := p.Functions[name]
		f := Function{Name: fn.Name, ParamCount: fn.ParamCount, Code: make([]Instruction, len(fn.Instructions))}
		for i, ins := range fn.Instructions {
			f.Code[i] = Instruction{
				Op:          uint8(ins.Op),
				OperandType: uint8(ins.Operand.Type),
				Int:         int64(ins.Operand.Int),
				Float:       ins.Operand.Float,
				Str:         ins.Operand.Str,
				Line:        ins.Line,
			}
		}
		img.Functions = append(img.Functions, f)
	}
	if caps := RequiredCapabilities(p); len(caps) > 0 {
		img.Capability = &CapabilityManifest{Required: caps}
	}

	h, err := ContentHash(img)
	if err != nil {
		return nil, err
	}
	img.Hash = h
	return img, nil
}

// ContentHash returns the SHA-256 of the canonical encoding of img with its
// Hash field zeroed.
func ContentHash(img *Image) ([32]byte, error) {
	unhashed := *img
	unhashed.Hash = [32]byte{}
	data, err := cborEncMode.Marshal(&unhashed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("dist: encode: %w", err)
	}
	return sha256.Sum256(data), nil
}

// VerifyImage checks that img's declared hash matches its contents.
func VerifyImage(img *Image) error {
	computed, err := ContentHash(img)
	if err != nil {
		return err
	}
	if computed != img.Hash {
		return fmt.Errorf("%w: declared %x, computed %x", ErrHashMismatch, img.Hash, computed)
	}
	return nil
}

// MarshalImage serializes an Image to CBOR bytes, prefixed with Magic.
func MarshalImage(img *Image) ([]byte, error) {
	data, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("dist: marshal image: %w", err)
	}
	return append(append([]byte(nil), Magic...), data...), nil
}

// UnmarshalImage deserializes an Image from bytes produced by MarshalImage.
// The hash is not checked; see VerifyImage.
func UnmarshalImage(data []byte) (*Image, error) {
	if !IsImage(data) {
		return nil, fmt.Errorf("dist: missing image header")
	}
	var img Image
	if err := cbor.Unmarshal(data[len(Magic):], &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("dist: unsupported image version %d", img.Version)
	}
	return &img, nil
}

// IsImage reports whether data starts with the image header.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// MarshalProgram encodes p as a binary image.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	img, err := NewImage(p)
	if err != nil {
		return nil, err
	}
	return MarshalImage(img)
}

// UnmarshalProgram decodes and verifies a binary image and rebuilds the
// program.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	img, err := UnmarshalImage(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyImage(img); err != nil {
		return nil, err
	}
	return img.Program()
}

// VerifyProgram reports whether data is a valid image whose hash equals
// want.
func VerifyProgram(data []byte, want [32]byte) error {
	img, err := UnmarshalImage(data)
	if err != nil {
		return err
	}
	if err := VerifyImage(img); err != nil {
		return err
	}
	if img.Hash != want {
		return fmt.Errorf("%w: declared %x, want %x", ErrHashMismatch, img.Hash, want)
	}
	return nil
}

// Program rebuilds the vm.Program described by img and validates it.
func (img *Image) Program() (*vm.Program, error) {
	p := vm.NewProgram()
	for i, c := range img.Constants {
		v, err := decodeConstant(c)
		if err != nil {
			return nil, fmt.Errorf("dist: constant %d: %w", i, err)
		}
		p.Constants = append(p.Constants, v)
	}
	p.Reindex()
	for _, f := range img.Functions {
		fn := vm.NewFunction(f.Name, f.ParamCount)
		fn.Instructions = make([]vm.Instruction, len(f.Code))
		for i, in := range f.Code {
			fn.Instructions[i] = vm.Instruction{
				Op: vm.Opcode(in.Op),
				Operand: vm.Operand{
					Type:  vm.OperandType(in.OperandType),
					Int:   int(in.Int),
					Float: in.Float,
					Str:   in.Str,
				},
				Line: in.Line,
			}
		}
		p.AddFunction(fn)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	return p, nil
}

func encodeConstant(v vm.Value) (Constant, error) {
	c := Constant{Kind: uint8(v.Kind())}
	switch x := v.(type) {
	case vm.Int:
		c.Int = int64(x)
	case vm.Float:
		c.Float = float64(x)
	case vm.String:
		c.Str = string(x)
	case vm.Bool:
		c.Bool = bool(x)
	default:
		return Constant{}, fmt.Errorf("%s is not a literal kind", v.Kind())
	}
	return c, nil
}

func decodeConstant(c Constant) (vm.Value, error) {
	switch vm.Kind(c.Kind) {
	case vm.KindInt:
		return vm.Int(c.Int), nil
	case vm.KindFloat:
		return vm.Float(c.Float), nil
	case vm.KindString:
		return vm.String(c.Str), nil
	case vm.KindBool:
		return vm.Bool(c.Bool), nil
	}
	return nil, fmt.Errorf("unknown constant kind %d", c.Kind)
}
