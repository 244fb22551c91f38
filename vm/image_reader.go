package vm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidImage  = errors.New("invalid image")
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// UnmarshalImage decodes a JSON image. The document is checked against the
// image schema first.
//
// Operands are reconstructed by trying integer, then float, then string. A
// string operand that looks like a number therefore comes back as a number;
// the compiler never emits string operands, so this only affects
// hand-written images.
func UnmarshalImage(data []byte) (*Program, error) {
	if err := ValidateImage(data); err != nil {
		return nil, err
	}

	var img imageFile
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	p := NewProgram()
	for i, raw := range img.Constants {
		c, err := decodeConstant(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: constant %d: %v", ErrInvalidImage, i, err)
		}
		p.Constants = append(p.Constants, c)
	}
	p.Reindex()

	for key, f := range img.Functions {
		name := f.Name
		if name == "" {
			name = key
		}
		fn := NewFunction(name, f.ParamCount)
		fn.Instructions = make([]Instruction, len(f.Instructions))
		for i, text := range f.Instructions {
			ins, err := parseInstruction(text)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %w", ErrInvalidImage, name, i, err)
			}
			if len(f.Lines) == len(f.Instructions) {
				ins.Line = f.Lines[i]
			}
			fn.Instructions[i] = ins
		}
		p.Functions[key] = fn
	}
	return p, nil
}

// ReadImage decodes a JSON image from r.
func ReadImage(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("image: read: %w", err)
	}
	return UnmarshalImage(data)
}

// LoadImage decodes the JSON image at path.
func LoadImage(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	p, err := UnmarshalImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func parseInstruction(text string) (Instruction, error) {
	name, operand, hasOperand := strings.Cut(text, " ")
	op, ok := OpcodeByName(name)
	if !ok {
		return Instruction{}, fmt.Errorf("%w %q", ErrUnknownOpcode, name)
	}
	ins := Instruction{Op: op}
	if hasOperand {
		ins.Operand = ParseOperand(operand)
	}
	return ins, nil
}

func decodeConstant(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Int(i), nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	}
	return nil, fmt.Errorf("unsupported constant %s", raw)
}
