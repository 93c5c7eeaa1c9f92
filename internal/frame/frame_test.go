package frame

import (
	"math/rand"
	"testing"

	"gotest.tools/v3/assert"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeMethod, Channel: 0, Payload: []byte{0, 10, 0, 10}},
		{Type: TypeHeartbeat, Channel: 0, Payload: nil},
		{Type: TypeBody, Channel: 7, Payload: []byte("hello world")},
	}
	for _, f := range cases {
		enc := Encode(nil, f)
		got, n, err := Decode(enc)
		assert.NilError(t, err)
		assert.Equal(t, n, len(enc))
		assert.Equal(t, got.Type, f.Type)
		assert.Equal(t, got.Channel, f.Channel)
		assert.DeepEqual(t, got.Payload, f.Payload)
	}
}

func TestFrameRoundTripRandomPayloads(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := rng.Intn(4096)
		payload := make([]byte, n)
		rng.Read(payload)
		f := Frame{Type: TypeBody, Channel: uint16(i), Payload: payload}
		enc := Encode(nil, f)
		got, consumed, err := Decode(enc)
		assert.NilError(t, err)
		assert.Equal(t, consumed, len(enc))
		assert.DeepEqual(t, got.Payload, payload)
	}
}

func TestDecodeIncompleteLeavesStateUntouched(t *testing.T) {
	full := Encode(nil, Frame{Type: TypeBody, Channel: 1, Payload: []byte("0123456789")})
	for n := 0; n < len(full); n++ {
		_, consumed, err := Decode(full[:n])
		assert.ErrorIs(t, err, ErrIncomplete)
		assert.Equal(t, consumed, 0)
	}
}

func TestDecodeOversizeRejected(t *testing.T) {
	f := Frame{Type: TypeBody, Channel: 0, Payload: make([]byte, MaxFrameSize+1)}
	enc := Encode(nil, f)
	_, _, err := Decode(enc)
	assert.ErrorIs(t, err, ErrOversize)
}

func TestDecodeBadSentinel(t *testing.T) {
	enc := Encode(nil, Frame{Type: TypeBody, Channel: 0, Payload: []byte("x")})
	enc[len(enc)-1] = 0x00
	_, _, err := Decode(enc)
	assert.ErrorIs(t, err, ErrBadFrameEnd)
}

func TestClassifyPreamble(t *testing.T) {
	assert.Equal(t, ClassifyPreamble(Preamble091), PreambleCurrent)
	assert.Equal(t, ClassifyPreamble(PreambleLegacy), PreambleLegacyDialect)
	assert.Equal(t, ClassifyPreamble([]byte("GARBAGE1")), PreambleUnknown)
}
