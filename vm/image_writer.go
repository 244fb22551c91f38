package vm

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// ---------------------------------------------------------------------------
// Image format (JSON)
//
//   {
//     "constants": [5, 3.5, "x", true],
//     "functions": {
//       "main": {"name": "main", "param_count": 0,
//                "instructions": ["LOAD_CONST 0", "PRINT", "HALT"],
//                "lines": [1, 1, 1]}
//     }
//   }
//
// Each instruction is its opcode name, optionally followed by one space and
// the operand text. "lines" is optional.
// ---------------------------------------------------------------------------

type imageFile struct {
	Constants []json.RawMessage          `json:"constants"`
	Functions map[string]imageFunction `json:"functions"`
}

type imageFunction struct {
	Name         string   `json:"name"`
	ParamCount   int      `json:"param_count"`
	Instructions []string `json:"instructions"`
	Lines        []int    `json:"lines,omitempty"`
}

// MarshalImage encodes p in the JSON image format.
func MarshalImage(p *Program) ([]byte, error) {
	img := imageFile{
		Constants: make([]json.RawMessage, len(p.Constants)),
		Functions: make(map[string]imageFunction, len(p.Functions)),
	}
	for i, c := range p.Constants {
		raw, err := encodeConstant(c)
		if err != nil {
			return nil, fmt.Errorf("image: constant %d: %w", i, err)
		}
		img.Constants[i] = raw
	}
	for name, fn := range p.Functions {
		f := imageFunction{
			Name:         fn.Name,
			ParamCount:   fn.ParamCount,
			Instructions: make([]string, len(fn.Instructions)),
			Lines:        make([]int, len(fn.Instructions)),
		}
		for i, ins := range fn.Instructions {
			f.Instructions[i] = ins.String()
			f.Lines[i] = ins.Line
		}
		img.Functions[name] = f
	}
	return json.MarshalIndent(img, "", "  ")
}

// WriteImage writes the JSON image of p to w.
func WriteImage(w io.Writer, p *Program) error {
	data, err := MarshalImage(p)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// SaveImage writes the JSON image of p to path.
func SaveImage(path string, p *Program) error {
	data, err := MarshalImage(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

// encodeConstant writes floats with a decimal point or exponent so the loader
// can tell them from integers.
func encodeConstant(c Value) (json.RawMessage, error) {
	switch x := c.(type) {
	case Int:
		return json.RawMessage(strconv.FormatInt(int64(x), 10)), nil
	case Float:
		if math.IsInf(float64(x), 0) || math.IsNaN(float64(x)) {
			return nil, fmt.Errorf("%v has no JSON form", float64(x))
		}
		return json.RawMessage(formatFloat(float64(x))), nil
	case String:
		return json.Marshal(string(x))
	case Bool:
		return json.Marshal(bool(x))
	}
	return nil, fmt.Errorf("%s is not a literal kind", c.Kind())
}
