// Package canon implements Exclusive XML Canonicalization 1.0 with the
// xml:id fixup this ecosystem's deployed verifiers require.
//
// Per XML C14N 1.1, xml:id is not a simple inheritable attribute and must not
// receive empty-namespace propagation, but common canonicalizer
// implementations — including the one this package wraps — emit
// `xmlns:xml="" xml:id` anyway, producing signatures that do not round-trip
// against deployed verifiers. Rather than monkey-patch the underlying
// library, this package implements the correction directly and applies it on
// every call, so signing and verifying always agree.
package canon

import (
	"bytes"

	"github.com/beevik/etree"
	xmldsig "github.com/russellhaering/goxmldsig"
)

// Algorithm is the canonicalization method URI this package implements.
const Algorithm = "http://www.w3.org/2001/10/xml-exc-c14n#"

// base is the off-the-shelf Exclusive C14N 1.0 canonicalizer (no inclusive
// namespace prefix list); the fixup is applied as a post-processing pass over
// its output.
var base = xmldsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

var (
	xmlIDBug = []byte(`xmlns:xml="" xml:id`)
	xmlIDFix = []byte(`xml:id`)
)

// Canonicalize renders el per Exclusive XML Canonicalization 1.0 with the
// xml:id fixup applied. Deterministic; no I/O. Idempotent: once the buggy
// sequence is rewritten it no longer matches, so a second pass is a no-op.
func Canonicalize(el *etree.Element) ([]byte, error) {
	out, err := base.Canonicalize(el)
	if err != nil {
		return nil, err
	}
	return bytes.ReplaceAll(out, xmlIDBug, xmlIDFix), nil
}
