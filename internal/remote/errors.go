package remote

import (
	"errors"
	"fmt"
	"strings"
)

// ProtocolSignature is the text the stats service puts into its errors when it
// rejects every request of a batch (backend overload, auth failure, ...).
//
// The server-side trigger is unknown, so this is kept as a literal
// compatibility rule rather than inferred from status codes.
const ProtocolSignature = "API Error ProtocolError"

var ErrNoBaseURL = errors.New("remote: base url is required")

type Kind int

const (
	KindNetwork Kind = iota + 1
	KindTimeout
	KindStatus
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call that fails.
//
// ProtocolFault is computed once, when the error is built, so callers never
// need to search error text themselves.
type Error struct {
	Kind Kind
	Path string

	// Code and Body are set for KindStatus. Body is truncated.
	Code int
	Body string

	ProtocolFault bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, ": status %d", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, path string, code int, body string, err error) *Error {
	body = strings.TrimSpace(body)
	e := &Error{Kind: kind, Path: path, Code: code, Body: truncate(body, maxBodySnippet), Err: err}
	// The full body is matched; the signature may sit past the kept snippet.
	e.ProtocolFault = HasProtocolSignature(body) || HasProtocolSignature(e.Error())
	return e
}

// HasProtocolSignature reports whether s carries the service's systemic
// rejection marker. Used for well-formed replies whose message carries it.
func HasProtocolSignature(s string) bool {
	return strings.Contains(s, ProtocolSignature)
}

// IsProtocolFault reports whether err signals that the service is rejecting
// the whole batch. Errors from outside this package are matched by text so
// updaters that wrap foreign errors keep the same rule.
func IsProtocolFault(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ProtocolFault
	}
	return HasProtocolSignature(err.Error())
}

func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

func IsDecode(err error) bool { return kindOf(err) == KindDecode }

// KindOf returns the Kind of a remote error, or 0 for foreign errors.
func KindOf(err error) Kind { return kindOf(err) }

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

const maxBodySnippet = 512

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
