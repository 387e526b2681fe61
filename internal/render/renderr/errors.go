// Package renderr defines the failure taxonomy of a render session.
//
// Every failure the orchestrator reports is exactly one Kind. The concrete
// *Error keeps the originating cause reachable through errors.Unwrap, and
// errors.Is matches the per-kind sentinel values below.
package renderr

import (
	"errors"
	"fmt"
)

// Kind classifies a render failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindConnection: control plane unreachable or malformed tab-creation response.
	KindConnection
	// KindTransport: command channel could not be opened or written to.
	KindTransport
	// KindProtocol: channel closed before the expected correlated response arrived.
	KindProtocol
	// KindBrowserRender: print response carried no payload.
	KindBrowserRender
	// KindDecode: payload is not valid base64.
	KindDecode
	// KindTimeout: overall render deadline exceeded.
	KindTimeout
	// KindResource: concurrency gate failure (closed during shutdown).
	KindResource
)

// Sentinel errors, one per Kind.
var (
	ErrConnection    = errors.New("browser control plane connection failed")
	ErrTransport     = errors.New("command channel transport failed")
	ErrProtocol      = errors.New("command channel protocol failure")
	ErrBrowserRender = errors.New("browser returned no PDF data")
	ErrDecode        = errors.New("PDF payload decode failed")
	ErrTimeout       = errors.New("render deadline exceeded")
	ErrResource      = errors.New("render slot unavailable")
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindBrowserRender:
		return "browser_render"
	case KindDecode:
		return "decode"
	case KindTimeout:
		return "timeout"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindBrowserRender:
		return ErrBrowserRender
	case KindDecode:
		return ErrDecode
	case KindTimeout:
		return ErrTimeout
	case KindResource:
		return ErrResource
	default:
		return nil
	}
}

// Error is a classified render failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "create tab"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel()
	if msg == nil {
		msg = errors.New("render failed")
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", msg, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", msg, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New wraps err as a failure of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
