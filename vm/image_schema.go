package vm

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// imageSchemaSource describes the JSON image layout.
const imageSchemaSource = `
#Function: {
	name:        string
	param_count: int & >=0
	instructions: [...string & =~"^[A-Z_]+( .+)?$"]
	lines?: [...int]
}

#Program: {
	constants: [...(number | string | bool)]
	functions: {
		main: #Function
		[Name=string]: #Function & {name: Name}
	}
}
`

// cue.Context is not safe for concurrent use.
var (
	schemaMu     sync.Mutex
	schemaCtx    *cue.Context
	schemaValue  cue.Value
	schemaErr    error
	schemaLoaded bool
)

func loadImageSchema() {
	schemaCtx = cuecontext.New()
	v := schemaCtx.CompileString(imageSchemaSource, cue.Filename("image.cue"))
	if err := v.Err(); err != nil {
		schemaErr = fmt.Errorf("image schema: %w", err)
		return
	}
	schemaValue = v.LookupPath(cue.ParsePath("#Program"))
	schemaErr = schemaValue.Err()
}

// ValidateImage checks a JSON image document against the image schema.
func ValidateImage(data []byte) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if !schemaLoaded {
		loadImageSchema()
		schemaLoaded = true
	}
	if schemaErr != nil {
		return schemaErr
	}

	doc := schemaCtx.CompileBytes(data, cue.Filename("image.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidImage, cueerrors.Details(err, nil))
	}
	if err := schemaValue.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidImage, cueerrors.Details(err, nil))
	}
	return nil
}
