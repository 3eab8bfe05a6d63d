// Package ferr defines the error-kind vocabulary shared by every component of
// the speaks-for toolkit. A *ferr.Error lets a caller (the CLI layer, or a
// test) react to the category of failure without parsing message text, while
// still carrying the usual fmt.Errorf-wrapped cause for humans.
package ferr

import "fmt"

// Kind is one of the error categories from the design's error-handling
// section. It is a category a caller reacts to, not a Go type name.
type Kind string

const (
	// InputParse marks malformed PEM/PKCS#12/XML input.
	InputParse Kind = "InputParse"
	// KeyDecryption marks a wrong or missing private-key password.
	KeyDecryption Kind = "KeyDecryption"
	// KeyAmbiguity marks multiple private keys in one PEM, or divergent
	// localKeyId attributes inside one PKCS#12.
	KeyAmbiguity Kind = "KeyAmbiguity"
	// SchemaInvalid marks XSD/structural schema rejection.
	SchemaInvalid Kind = "SchemaInvalid"
	// SignatureInvalid marks a canonicalization or signature check failure.
	SignatureInvalid Kind = "SignatureInvalid"
	// TrustChain marks an untrusted or malformed certificate chain. Reason
	// subdivides into "notTrusted", "certExpired", or "malformed".
	TrustChain Kind = "TrustChain"
	// Expired marks a credential whose expires instant is in the past.
	Expired Kind = "Expired"
	// KeyBindingMismatch marks a head or tail keyid that does not match the
	// expected value.
	KeyBindingMismatch Kind = "KeyBindingMismatch"
	// UsageConflict marks mutually exclusive caller-supplied options.
	UsageConflict Kind = "UsageConflict"
)

// Error is the single error type produced by every speaks-for package.
type Error struct {
	Kind   Kind
	Reason string // optional subdivision, e.g. "notTrusted" for TrustChain
	Err    error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "/" + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind with no Reason, whose wrapped error
// is the message formatted from format and args.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap builds a *Error of the given kind and reason, wrapping err.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
