package resource

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/testutil"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(counterType(false)))
	assert.Error(t, r.Register(counterType(false)), "duplicate name")
	assert.Error(t, r.Register(Type{Reducer: testutil.CounterReducer}), "missing name")
	assert.Error(t, r.Register(Type{Name: "x"}), "missing reducer")

	typ, err := r.Lookup("counter")
	require.NoError(t, err)
	assert.Equal(t, "counter", typ.Name)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(counterType(false))

	_, err := r.Lookup("chat")
	require.Error(t, err)
	assert.True(t, IsUnknownResourceType(err))
	assert.Equal(t, ErrCodeUnknownResourceType, CodeOf(err))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(
		Type{Name: "zeta", Reducer: testutil.CounterReducer},
		Type{Name: "alpha", Reducer: testutil.CounterReducer},
	)
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}

func TestNewRegistry_PanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(counterType(false), counterType(false))
	})
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}

	a := g.Generate("chat")
	b := g.Generate("chat")
	assert.NotEqual(t, a, b)

	prefix, rest, ok := strings.Cut(string(a), ":")
	require.True(t, ok)
	assert.Equal(t, "chat", prefix)

	id, err := uuid.Parse(rest)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("chat:a", "chat:b")

	assert.Equal(t, "chat:a", g.Generate("chat").String())
	assert.Equal(t, "chat:b", g.Generate("chat").String())
	assert.Equal(t, "chat:3", g.Generate("chat").String())
	assert.Equal(t, "counter:4", g.Generate("counter").String())
}
