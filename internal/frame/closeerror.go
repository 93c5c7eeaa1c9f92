package frame

import "fmt"

// CloseError is the distinguished error raised when a peer sends Close
// instead of the method the handshake state machine was expecting (spec §7,
// §9: "exception-for-close"). It carries enough of the Close method for the
// session to forward a meaningful reply to the client.
type CloseError struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("frame: peer closed (%d) %s class=%d method=%d", e.ReplyCode, e.ReplyText, e.ClassID, e.MethodID)
}

// NewCloseError builds a CloseError from a decoded Close method.
func NewCloseError(c Close) *CloseError {
	return &CloseError{ReplyCode: c.ReplyCode, ReplyText: c.ReplyText, ClassID: c.ClassID, MethodID: c.MethodID}
}
