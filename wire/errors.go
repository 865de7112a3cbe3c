package wire

import "fmt"

// ProtocolError indicates a malformed frame, an unread stream
// attachment, or an unrecognized protocol version — anything the spec
// classifies as ProtocolViolation (§7). Callers translate this into an
// rpcerr.Error at the package boundary; wire itself does not depend on
// rpcerr to keep the compatibility-critical codec free of the rest of
// the runtime.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func errMalformed(format string, args ...interface{}) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

var errNoPayload = &ProtocolError{Message: "frame has no payload set"}
