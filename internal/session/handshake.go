package session

import (
	"fmt"
	"io"

	"github.com/amqpprox/amqpprox/internal/frame"
)

// ErrLegacyPreamble is returned by IngressPreamble when the client spoke the
// legacy 0-8/0-9 dialect; the caller must disconnect without attempting a
// backend (spec §4.2 "Preamble").
var ErrLegacyPreamble = fmt.Errorf("session: legacy preamble, disconnecting")

// ErrBadPreamble is fatal: neither the current nor legacy preamble matched.
var ErrBadPreamble = fmt.Errorf("session: unrecognized protocol preamble")

// IngressPreamble reads the first 8 bytes on the ingress socket and
// classifies them. On the legacy dialect it writes the 0-9-1 preamble back
// and returns ErrLegacyPreamble; the caller closes the socket without
// attempting a backend (spec S2 end-to-end scenario).
func IngressPreamble(r *FrameReader, w io.Writer) error {
	b, err := r.ReadExact(frame.PreambleLen)
	if err != nil {
		return fmt.Errorf("session: reading preamble: %w", err)
	}
	switch frame.ClassifyPreamble(b) {
	case frame.PreambleCurrent:
		return nil
	case frame.PreambleLegacyDialect:
		if _, err := w.Write(frame.Preamble091); err != nil {
			return fmt.Errorf("session: replying to legacy preamble: %w", err)
		}
		return ErrLegacyPreamble
	default:
		return ErrBadPreamble
	}
}

func writeFrame(w io.Writer, f frame.Frame) error {
	buf := frame.Encode(nil, f)
	_, err := w.Write(buf)
	return err
}

// expectMethod reads the next frame and requires it to be a method frame of
// the given classId/methodId. A Close method received instead is surfaced
// as a *frame.CloseError (spec §7 "Peer Close during handshake").
func expectMethod(r *FrameReader, classID, methodID uint16) (frame.Frame, error) {
	f, err := r.Next()
	if err != nil {
		return frame.Frame{}, err
	}
	if f.Type != frame.TypeMethod {
		return frame.Frame{}, fmt.Errorf("session: expected method frame, got type %d", f.Type)
	}
	cid, mid, err := frame.MethodHeader(f)
	if err != nil {
		return frame.Frame{}, err
	}
	if cid == frame.ClassConnection && mid == frame.MethodClose {
		c, derr := frame.DecodeClose(f.Payload)
		if derr != nil {
			return frame.Frame{}, derr
		}
		return frame.Frame{}, frame.NewCloseError(c)
	}
	if cid != classID || mid != methodID {
		return frame.Frame{}, fmt.Errorf("session: expected method (%d,%d), got (%d,%d)", classID, methodID, cid, mid)
	}
	return f, nil
}

// IngressHandshakeResult is everything the connector needs once the ingress
// side has reached AwaitBackend.
type IngressHandshakeResult struct {
	VHost      string
	StartOk    StartOkCapture
	ClientTune Negotiated
}

// DriveIngress runs the synthesized Start/StartOk/Tune/TuneOk/Open exchange
// with the client (spec §4.2 "Synthesized Start" through "Open -> backend
// selection"). It does not send OpenOk; the connector does that once a
// backend handshake has succeeded.
func DriveIngress(r *FrameReader, w io.Writer, cluster string) (IngressHandshakeResult, error) {
	start := frame.Start{
		VersionMajor:     0,
		VersionMinor:     9,
		ServerProperties: BuildServerProperties(cluster),
		Mechanisms:       "PLAIN",
		Locales:          "en_US",
	}
	if err := writeFrame(w, frame.EncodeStart(start)); err != nil {
		return IngressHandshakeResult{}, fmt.Errorf("session: sending Start: %w", err)
	}

	f, err := expectMethod(r, frame.ClassConnection, frame.MethodStartOk)
	if err != nil {
		return IngressHandshakeResult{}, err
	}
	startOk, err := frame.DecodeStartOk(f.Payload)
	if err != nil {
		return IngressHandshakeResult{}, err
	}

	tune := frame.Tune{ChannelMax: 2047, FrameMax: frame.MaxFrameSize, Heartbeat: 60}
	if err := writeFrame(w, frame.EncodeTune(tune)); err != nil {
		return IngressHandshakeResult{}, fmt.Errorf("session: sending Tune: %w", err)
	}

	tf, err := expectMethod(r, frame.ClassConnection, frame.MethodTuneOk)
	if err != nil {
		return IngressHandshakeResult{}, err
	}
	tuneOk, err := frame.DecodeTuneOk(tf.Payload)
	if err != nil {
		return IngressHandshakeResult{}, err
	}

	of, err := expectMethod(r, frame.ClassConnection, frame.MethodOpen)
	if err != nil {
		return IngressHandshakeResult{}, err
	}
	open, err := frame.DecodeOpen(of.Payload)
	if err != nil {
		return IngressHandshakeResult{}, err
	}

	return IngressHandshakeResult{
		VHost: open.VirtualHost,
		StartOk: StartOkCapture{
			Mechanism:        startOk.Mechanism,
			Response:         startOk.Response,
			Locale:           startOk.Locale,
			ClientProperties: startOk.ClientProperties,
		},
		ClientTune: Negotiated{ChannelMax: tuneOk.ChannelMax, FrameMax: tuneOk.FrameMax, Heartbeat: tuneOk.Heartbeat},
	}, nil
}

// SendOpenOk completes the ingress handshake once a backend connection is
// live.
func SendOpenOk(w io.Writer) error {
	return writeFrame(w, frame.EncodeOpenOk(frame.OpenOk{}))
}

// EgressHandshakeResult is what DriveEgress negotiates with the broker.
type EgressHandshakeResult struct {
	Negotiated Negotiated
}

// DriveEgress performs one attempt's broker-side handshake: preamble,
// Start/StartOk (replaying the augmented capture), Tune/TuneOk (negotiating
// the minimum of client and broker values), and Open/OpenOk (spec §4.2
// "Open -> backend selection", retry loop body). An unexpected Close here
// surfaces as *frame.CloseError so the caller can forward it to the client
// verbatim (spec §7).
func DriveEgress(r *FrameReader, w io.Writer, vhost string, startOk StartOkCapture, clientTune Negotiated) (EgressHandshakeResult, error) {
	if _, err := w.Write(frame.Preamble091); err != nil {
		return EgressHandshakeResult{}, fmt.Errorf("session: sending egress preamble: %w", err)
	}

	sf, err := expectMethod(r, frame.ClassConnection, frame.MethodStart)
	if err != nil {
		return EgressHandshakeResult{}, err
	}
	if _, err := frame.DecodeStart(sf.Payload); err != nil {
		return EgressHandshakeResult{}, err
	}

	startOkMethod := frame.StartOk{
		ClientProperties: startOk.ClientProperties,
		Mechanism:        startOk.Mechanism,
		Response:         startOk.Response,
		Locale:           startOk.Locale,
	}
	if err := writeFrame(w, frame.EncodeStartOk(startOkMethod)); err != nil {
		return EgressHandshakeResult{}, fmt.Errorf("session: sending StartOk: %w", err)
	}

	tf, err := expectMethod(r, frame.ClassConnection, frame.MethodTune)
	if err != nil {
		return EgressHandshakeResult{}, err
	}
	brokerTune, err := frame.DecodeTune(tf.Payload)
	if err != nil {
		return EgressHandshakeResult{}, err
	}

	negotiated := Negotiated{
		ChannelMax: minNonZeroU16(clientTune.ChannelMax, brokerTune.ChannelMax),
		FrameMax:   minNonZeroU32(clientTune.FrameMax, brokerTune.FrameMax),
		Heartbeat:  minNonZeroU16(clientTune.Heartbeat, brokerTune.Heartbeat),
	}
	tuneOk := frame.TuneOk{ChannelMax: negotiated.ChannelMax, FrameMax: negotiated.FrameMax, Heartbeat: negotiated.Heartbeat}
	if err := writeFrame(w, frame.EncodeTuneOk(tuneOk)); err != nil {
		return EgressHandshakeResult{}, fmt.Errorf("session: sending TuneOk: %w", err)
	}

	if err := writeFrame(w, frame.EncodeOpen(frame.Open{VirtualHost: vhost})); err != nil {
		return EgressHandshakeResult{}, fmt.Errorf("session: sending Open: %w", err)
	}

	if _, err := expectMethod(r, frame.ClassConnection, frame.MethodOpenOk); err != nil {
		return EgressHandshakeResult{}, err
	}

	return EgressHandshakeResult{Negotiated: negotiated}, nil
}

func minNonZeroU16(a, b uint16) uint16 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func minNonZeroU32(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
