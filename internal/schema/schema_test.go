package schema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

const counterSchema = `
#State: {
	count: int & >=0
	label?: string
}
`

func TestCompile(t *testing.T) {
	s, err := Compile("counter.cue", counterSchema)
	require.NoError(t, err)
	assert.Equal(t, "counter.cue", s.Name())
	assert.Equal(t, counterSchema, s.Source())
}

func TestCompile_MissingStateDefinition(t *testing.T) {
	_, err := Compile("empty.cue", `#Other: {x: int}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#State")
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("broken.cue", `#State: {`)
	require.Error(t, err)

	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
}

func TestValidate(t *testing.T) {
	s := MustCompile("counter.cue", counterSchema)

	tests := []struct {
		name    string
		state   ir.IRValue
		wantErr bool
	}{
		{"valid", ir.IRObject{"count": ir.IRInt(3)}, false},
		{"valid with optional", ir.IRObject{"count": ir.IRInt(0), "label": ir.IRString("x")}, false},
		{"negative", ir.IRObject{"count": ir.IRInt(-1)}, true},
		{"wrong type", ir.IRObject{"count": ir.IRString("3")}, true},
		{"missing field", ir.IRObject{}, true},
		{"closed definition rejects extras", ir.IRObject{"count": ir.IRInt(1), "extra": ir.IRBool(true)}, true},
		{"not an object", ir.IRInt(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.state)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_NilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	assert.NoError(t, s.Validate(ir.IRInt(1)))
}

func TestValidate_Concurrent(t *testing.T) {
	s := MustCompile("counter.cue", counterSchema)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.Validate(ir.IRObject{"count": ir.IRInt(int64(n))}))
		}(i)
	}
	wg.Wait()
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("bad.cue", `x: {`) })
}
