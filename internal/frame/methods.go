package frame

import (
	"encoding/binary"
	"fmt"
)

// Connection-class method ids (AMQP 0-9-1 class 10).
const (
	ClassConnection uint16 = 10

	MethodStart    uint16 = 10
	MethodStartOk  uint16 = 11
	MethodSecure   uint16 = 20
	MethodSecureOk uint16 = 21
	MethodTune     uint16 = 30
	MethodTuneOk   uint16 = 31
	MethodOpen     uint16 = 40
	MethodOpenOk   uint16 = 41
	MethodClose    uint16 = 50
	MethodCloseOk  uint16 = 51
)

// Start is sent by the proxy, synthesized, to begin the ingress handshake.
type Start struct {
	VersionMajor    uint8
	VersionMinor    uint8
	ServerProperties Table
	Mechanisms      string // space-separated, longstr
	Locales         string // space-separated, longstr
}

func DecodeStart(payload []byte) (Start, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return Start{}, err
	}
	major, err := r.u8()
	if err != nil {
		return Start{}, err
	}
	minor, err := r.u8()
	if err != nil {
		return Start{}, err
	}
	props, n, err := DecodeTable(r.b[r.pos:])
	if err != nil {
		return Start{}, err
	}
	r.pos += n
	mech, err := r.longstr()
	if err != nil {
		return Start{}, err
	}
	loc, err := r.longstr()
	if err != nil {
		return Start{}, err
	}
	return Start{VersionMajor: major, VersionMinor: minor, ServerProperties: props, Mechanisms: mech, Locales: loc}, nil
}

func EncodeStart(s Start) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodStart)
	body = append(body, s.VersionMajor, s.VersionMinor)
	body = EncodeTable(body, s.ServerProperties)
	body = appendLongstr(body, s.Mechanisms)
	body = appendLongstr(body, s.Locales)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

// StartOk is sent by the client in response to Start.
type StartOk struct {
	ClientProperties Table
	Mechanism        string // shortstr
	Response         string // longstr, opaque SASL blob
	Locale           string // shortstr
}

func DecodeStartOk(payload []byte) (StartOk, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return StartOk{}, err
	}
	props, n, err := DecodeTable(r.b[r.pos:])
	if err != nil {
		return StartOk{}, err
	}
	r.pos += n
	mech, err := r.shortstr()
	if err != nil {
		return StartOk{}, err
	}
	resp, err := r.longstr()
	if err != nil {
		return StartOk{}, err
	}
	locale, err := r.shortstr()
	if err != nil {
		return StartOk{}, err
	}
	return StartOk{ClientProperties: props, Mechanism: mech, Response: resp, Locale: locale}, nil
}

func EncodeStartOk(s StartOk) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodStartOk)
	body = EncodeTable(body, s.ClientProperties)
	body = appendShortstr(body, s.Mechanism)
	body = appendLongstr(body, s.Response)
	body = appendShortstr(body, s.Locale)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

// Secure/SecureOk carry opaque SASL continuation challenges. The proxy
// forwards them verbatim but materializes the shape so a future auth
// interceptor could inspect it.
type Secure struct{ Challenge string }

func DecodeSecure(payload []byte) (Secure, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return Secure{}, err
	}
	c, err := r.longstr()
	return Secure{Challenge: c}, err
}

func EncodeSecure(s Secure) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodSecure)
	body = appendLongstr(body, s.Challenge)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

type SecureOk struct{ Response string }

func DecodeSecureOk(payload []byte) (SecureOk, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return SecureOk{}, err
	}
	resp, err := r.longstr()
	return SecureOk{Response: resp}, err
}

func EncodeSecureOk(s SecureOk) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodSecureOk)
	body = appendLongstr(body, s.Response)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

// Tune negotiates channelMax/frameMax/heartbeat.
type Tune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func DecodeTune(payload []byte) (Tune, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return Tune{}, err
	}
	cm, err := r.u16()
	if err != nil {
		return Tune{}, err
	}
	fm, err := r.u32()
	if err != nil {
		return Tune{}, err
	}
	hb, err := r.u16()
	if err != nil {
		return Tune{}, err
	}
	return Tune{ChannelMax: cm, FrameMax: fm, Heartbeat: hb}, nil
}

func EncodeTune(t Tune) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodTune)
	var b [8]byte
	binary.BigEndian.PutUint16(b[0:2], t.ChannelMax)
	binary.BigEndian.PutUint32(b[2:6], t.FrameMax)
	binary.BigEndian.PutUint16(b[6:8], t.Heartbeat)
	body = append(body, b[:]...)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

type TuneOk = Tune // identical wire shape

func DecodeTuneOk(payload []byte) (TuneOk, error) { return DecodeTune(payload) }

func EncodeTuneOk(t TuneOk) Frame {
	f := EncodeTune(t)
	// Overwrite the method id written by EncodeTune (Tune) with TuneOk's.
	binary.BigEndian.PutUint16(f.Payload[2:4], MethodTuneOk)
	return f
}

// Open is sent by the client (ingress) or the proxy (egress) naming the
// vhost to open.
type Open struct {
	VirtualHost string // shortstr
	Reserved1   string // shortstr, historically "capabilities"
	Reserved2   bool   // historically "insist"
}

func DecodeOpen(payload []byte) (Open, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return Open{}, err
	}
	vhost, err := r.shortstr()
	if err != nil {
		return Open{}, err
	}
	caps, err := r.shortstr()
	if err != nil {
		return Open{}, err
	}
	insist, err := r.u8()
	if err != nil {
		return Open{}, err
	}
	return Open{VirtualHost: vhost, Reserved1: caps, Reserved2: insist != 0}, nil
}

func EncodeOpen(o Open) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodOpen)
	body = appendShortstr(body, o.VirtualHost)
	body = appendShortstr(body, o.Reserved1)
	if o.Reserved2 {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

type OpenOk struct{ Reserved1 string }

func DecodeOpenOk(payload []byte) (OpenOk, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return OpenOk{}, err
	}
	s, err := r.shortstr()
	return OpenOk{Reserved1: s}, err
}

func EncodeOpenOk(o OpenOk) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodOpenOk)
	body = appendShortstr(body, o.Reserved1)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

// Close carries the reason the connection is ending, in either direction.
type Close struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func DecodeClose(payload []byte) (Close, error) {
	r := &byteReader{b: payload}
	if _, _, err := skipMethodHeader(r); err != nil {
		return Close{}, err
	}
	code, err := r.u16()
	if err != nil {
		return Close{}, err
	}
	text, err := r.shortstr()
	if err != nil {
		return Close{}, err
	}
	cid, err := r.u16()
	if err != nil {
		return Close{}, err
	}
	mid, err := r.u16()
	if err != nil {
		return Close{}, err
	}
	return Close{ReplyCode: code, ReplyText: text, ClassID: cid, MethodID: mid}, nil
}

func EncodeClose(c Close) Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodClose)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], c.ReplyCode)
	body = append(body, b[:]...)
	body = appendShortstr(body, c.ReplyText)
	binary.BigEndian.PutUint16(b[:], c.ClassID)
	body = append(body, b[:]...)
	binary.BigEndian.PutUint16(b[:], c.MethodID)
	body = append(body, b[:]...)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

type CloseOk struct{}

func DecodeCloseOk(payload []byte) (CloseOk, error) {
	r := &byteReader{b: payload}
	_, _, err := skipMethodHeader(r)
	return CloseOk{}, err
}

func EncodeCloseOk() Frame {
	var body []byte
	body = appendMethodHeader(body, ClassConnection, MethodCloseOk)
	return Frame{Type: TypeMethod, Channel: 0, Payload: body}
}

// Heartbeat returns the zero-payload connection heartbeat frame.
func Heartbeat() Frame {
	return Frame{Type: TypeHeartbeat, Channel: 0, Payload: nil}
}

func appendMethodHeader(dst []byte, classID, methodID uint16) []byte {
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], classID)
	binary.BigEndian.PutUint16(b[2:4], methodID)
	return append(dst, b[:]...)
}

func skipMethodHeader(r *byteReader) (classID, methodID uint16, err error) {
	classID, err = r.u16()
	if err != nil {
		return 0, 0, err
	}
	methodID, err = r.u16()
	if err != nil {
		return 0, 0, err
	}
	return classID, methodID, nil
}

// ErrUnsupportedMethod names the condition of a (classId, methodId) outside
// the narrow set this package materializes; no function in this package
// returns it.
var ErrUnsupportedMethod = fmt.Errorf("frame: unsupported method")
