package vm

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// I/O primitives
// ---------------------------------------------------------------------------

func (v *VM) print() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(v.out, Display(val)); err != nil {
		return &fault{kind: ErrIO, detail: "write output", cause: err}
	}
	return nil
}

// readStdin pushes one input line without its line terminator. A final line
// without a newline is still returned; only an empty read fails.
func (v *VM) readStdin() error {
	line, err := v.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return &fault{kind: ErrIO, detail: "read input", cause: err}
		}
		if line == "" {
			return &fault{kind: ErrEndOfInput}
		}
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	v.push(String(line))
	return nil
}

// readFile: path -> contents. The file is opened, read and closed within the
// instruction.
func (v *VM) readFile() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	path, ok := val.(String)
	if !ok {
		return typeMismatch(OpReadFile, "a string path", val)
	}

	var data []byte
	if v.fsys != nil {
		data, err = fs.ReadFile(v.fsys, string(path))
	} else {
		data, err = os.ReadFile(string(path))
	}
	if err != nil {
		kind := ErrIO
		switch {
		case errors.Is(err, fs.ErrNotExist):
			kind = ErrFileNotFound
		case errors.Is(err, fs.ErrPermission):
			kind = ErrPermissionDenied
		}
		return &fault{kind: kind, detail: string(path), cause: err}
	}
	if !utf8.Valid(data) {
		return faultf(ErrFileNotText, "%s", path)
	}
	v.push(String(data))
	return nil
}
