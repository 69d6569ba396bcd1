package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumDeterministic(t *testing.T) {
	state := IRObject{"participants": IRObject{}, "messages": IRArray{}}

	a, err := Checksum(state)
	require.NoError(t, err)
	b, err := Checksum(Clone(state))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "SHA-256 hex is 64 characters")
}

func TestChecksumIgnoresInsertionOrder(t *testing.T) {
	a := IRObject{}
	a["blue"] = IRString("b")
	a["orange"] = IRString("o")
	a["yellow"] = IRString("y")

	b := IRObject{}
	b["yellow"] = IRString("y")
	b["blue"] = IRString("b")
	b["orange"] = IRString("o")

	assert.Equal(t, MustCheck(a).Checksum, MustCheck(b).Checksum)
}

func TestChecksumDetectsContentChanges(t *testing.T) {
	base := IRObject{"messages": IRArray{IRString("a"), IRString("b")}}
	variants := []IRValue{
		IRObject{"messages": IRArray{IRString("b"), IRString("a")}},
		IRObject{"messages": IRArray{IRString("a")}},
		IRObject{"messages": IRArray{IRString("a"), IRString("b")}, "x": IRBool(false)},
		IRObject{"messages": IRString("ab")},
		IRObject{"Messages": IRArray{IRString("a"), IRString("b")}},
	}

	sum := MustCheck(base).Checksum
	for i, v := range variants {
		assert.NotEqual(t, sum, MustCheck(v).Checksum, "variant %d", i)
	}
}

func TestChecksumDistinguishesTypes(t *testing.T) {
	assert.NotEqual(t, MustCheck(IRInt(1)).Checksum, MustCheck(IRString("1")).Checksum)
	assert.NotEqual(t, MustCheck(IRBool(true)).Checksum, MustCheck(IRString("true")).Checksum)
}

func TestChecksumDistinguishesNormalizationForms(t *testing.T) {
	nfc, err := Checksum(IRObject{"s": IRString("\u00e9")})
	require.NoError(t, err)
	nfd, err := Checksum(IRObject{"s": IRString("e\u0301")})
	require.NoError(t, err)
	assert.NotEqual(t, nfc, nfd)
}

func TestChecksumRejectsInvalidUTF8(t *testing.T) {
	for _, s := range []string{"\xff", "\xfe", "ok\xc3"} {
		_, err := Checksum(IRObject{"s": IRString(s)})
		require.Error(t, err, "%q", s)
		assert.ErrorIs(t, err, ErrInvalidUTF8)
	}
	_, err := Check(IRObject{"\xff": IRBool(true)})
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestChecksumRejectsNull(t *testing.T) {
	_, err := Check(IRObject{"leftAt": IRNull{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestCheckedStateHelpers(t *testing.T) {
	cs := MustCheck(IRObject{"a": IRInt(1)})
	other := MustCheck(IRObject{"a": IRInt(1)})

	assert.True(t, cs.Matches(other))
	assert.False(t, cs.Matches(CheckedState{}))
	assert.Len(t, cs.Short(), 12)

	cp := cs.Clone()
	cp.State.(IRObject)["a"] = IRInt(2)
	a, _ := cs.State.(IRObject).Int("a")
	assert.Equal(t, int64(1), a)
}

func TestActionValueRoundTrip(t *testing.T) {
	act := NewAction("writeMessage", IRObject{"msg": IRString("Hey")})
	back, err := ActionFromValue(act.AsValue())
	require.NoError(t, err)
	assert.Equal(t, act.Type, back.Type)
	assert.True(t, Equal(act.Payload, back.Payload))

	empty := Action{Type: "noop"}
	payload, err := empty.PayloadObject()
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Equal(t, IRObject{}, empty.AsValue()["payload"])

	_, err = Action{Type: "bad", Payload: IRInt(1)}.PayloadObject()
	require.Error(t, err)

	_, err = ActionFromValue(IRObject{"payload": IRObject{}})
	require.Error(t, err)
}
