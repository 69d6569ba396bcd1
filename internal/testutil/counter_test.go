package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

func TestCounterReducer_Add(t *testing.T) {
	next, err := CounterReducer(Counter(2), Add(3))
	require.NoError(t, err)
	assert.Equal(t, int64(5), Count(t, next))
}

func TestCounterReducer_Label(t *testing.T) {
	next, err := CounterReducer(Counter(2), Label("hi"))
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"count": ir.IRInt(2), "label": ir.IRString("hi")}, next)
}

func TestCounterReducer_UnknownActionIsNoop(t *testing.T) {
	next, err := CounterReducer(Counter(2), ir.Action{Type: "reset"})
	require.NoError(t, err)
	assert.True(t, ir.Equal(Counter(2), next))
}

func TestCounterReducer_Misbehaviour(t *testing.T) {
	_, err := CounterReducer(Counter(0), Fail())
	assert.EqualError(t, err, "deliberate failure")

	next, err := CounterReducer(Counter(0), ir.Action{Type: ActionNil})
	assert.NoError(t, err)
	assert.Nil(t, next)

	assert.PanicsWithValue(t, "reducer exploded", func() {
		_, _ = CounterReducer(Counter(0), ir.Action{Type: ActionPanic})
	})

	state := Counter(1)
	_, err = CounterReducer(state, ir.Action{Type: ActionMutate})
	assert.Error(t, err)
	assert.Equal(t, int64(999), Count(t, state))

	_, err = CounterReducer(ir.IRString("x"), Add(1))
	assert.Error(t, err)
}

func TestContext_HasDeadline(t *testing.T) {
	ctx := Context(t)
	_, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.NoError(t, ctx.Err())
}
