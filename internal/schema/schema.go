package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/resync/internal/ir"
)

// StatePath is the definition every schema source must declare.
const StatePath = "#State"

// Schema is a compiled #State definition.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Validate
// serializes callers on an internal mutex.
type Schema struct {
	mu     sync.Mutex
	name   string
	source string
	ctx    *cue.Context
	state  cue.Value
}

// Compile parses src and resolves its #State definition.
// name is used as the CUE filename in error positions.
func Compile(name, src string) (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename(name))
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := root.LookupPath(cue.ParsePath(StatePath))
	if !def.Exists() {
		return nil, &Error{
			Field:   StatePath,
			Message: "schema must declare a #State definition",
			Pos:     root.Pos(),
		}
	}
	if err := def.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return &Schema{
		name:   name,
		source: src,
		ctx:    ctx,
		state:  def,
	}, nil
}

// MustCompile is like Compile but panics on error.
// Intended for schemas embedded in the binary.
func MustCompile(name, src string) *Schema {
	s, err := Compile(name, src)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// Name returns the name the schema was compiled under.
func (s *Schema) Name() string {
	return s.name
}

// Source returns the CUE source text.
func (s *Schema) Source() string {
	return s.source
}

// Validate unifies state with #State and requires the result to be concrete.
// A nil Schema accepts everything.
func (s *Schema) Validate(state ir.IRValue) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.Encode(ir.ToAny(state))
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	unified := s.state.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// Error is a schema compile or validation failure with position info.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "cue"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	e := &Error{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
