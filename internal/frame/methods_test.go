package frame

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestStartRoundTrip(t *testing.T) {
	in := Start{
		VersionMajor: 0,
		VersionMinor: 9,
		ServerProperties: Table{
			{Name: "product", Value: FieldValue{Tag: FVLongstr, Str: "amqpprox"}},
			{Name: "capabilities", Value: FieldValue{Tag: FVTable, Table: Table{
				{Name: "consumer_cancel_notify", Value: FieldValue{Tag: FVBool, Bool: true}},
			}}},
		},
		Mechanisms: "PLAIN",
		Locales:    "en_US",
	}
	f := EncodeStart(in)
	out, err := DecodeStart(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestStartOkRoundTrip(t *testing.T) {
	in := StartOk{
		ClientProperties: Table{{Name: "platform", Value: FieldValue{Tag: FVLongstr, Str: "go"}}},
		Mechanism:        "PLAIN",
		Response:         "\x00guest\x00guest",
		Locale:           "en_US",
	}
	f := EncodeStartOk(in)
	out, err := DecodeStartOk(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestTuneRoundTrip(t *testing.T) {
	in := Tune{ChannelMax: 2047, FrameMax: 131072, Heartbeat: 60}
	f := EncodeTune(in)
	out, err := DecodeTune(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestTuneOkRoundTrip(t *testing.T) {
	in := TuneOk{ChannelMax: 100, FrameMax: 4096, Heartbeat: 30}
	f := EncodeTuneOk(in)
	cid, mid, err := MethodHeader(f)
	assert.NilError(t, err)
	assert.Equal(t, cid, ClassConnection)
	assert.Equal(t, mid, MethodTuneOk)
	out, err := DecodeTuneOk(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestOpenRoundTrip(t *testing.T) {
	in := Open{VirtualHost: "/", Reserved1: "", Reserved2: false}
	f := EncodeOpen(in)
	out, err := DecodeOpen(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestOpenOkRoundTrip(t *testing.T) {
	in := OpenOk{Reserved1: ""}
	f := EncodeOpenOk(in)
	out, err := DecodeOpenOk(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestCloseRoundTrip(t *testing.T) {
	in := Close{ReplyCode: 530, ReplyText: "ACCESS_REFUSED", ClassID: 10, MethodID: 40}
	f := EncodeClose(in)
	out, err := DecodeClose(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestCloseOkRoundTrip(t *testing.T) {
	f := EncodeCloseOk()
	_, err := DecodeCloseOk(f.Payload)
	assert.NilError(t, err)
}

func TestSecureRoundTrip(t *testing.T) {
	in := Secure{Challenge: "continue"}
	f := EncodeSecure(in)
	out, err := DecodeSecure(f.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)

	inOk := SecureOk{Response: "response"}
	f2 := EncodeSecureOk(inOk)
	outOk, err := DecodeSecureOk(f2.Payload)
	assert.NilError(t, err)
	assert.DeepEqual(t, inOk, outOk)
}

func TestHeartbeatFrame(t *testing.T) {
	f := Heartbeat()
	assert.Assert(t, IsHeartbeat(f))
	enc := Encode(nil, f)
	got, _, err := Decode(enc)
	assert.NilError(t, err)
	assert.Assert(t, IsHeartbeat(got))
}

func TestCloseErrorCarriesFields(t *testing.T) {
	c := Close{ReplyCode: 530, ReplyText: "ACCESS_REFUSED", ClassID: 10, MethodID: 40}
	err := NewCloseError(c)
	assert.Equal(t, err.ReplyCode, uint16(530))
	assert.Equal(t, err.ReplyText, "ACCESS_REFUSED")
}
