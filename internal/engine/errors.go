package engine

import "github.com/cockroachdb/errors"

// Error kinds from the protocol's error handling design. ParseError and
// TransportError are declared in the packages that actually detect them
// (wire.ErrParse, transport.ErrTransport) and are not redeclared here;
// the remaining kinds are specific to the engine's own API surface.
var (
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrTimeout        = errors.New("timeout")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownStatus  = errors.New("unknown status")
)
