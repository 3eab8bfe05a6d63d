// Package verify implements the Credential Verifier (spec.md §4.E): a
// strictly ordered five-stage (optionally six-stage) pipeline over an
// incoming speaks-for credential. Verify is a pure function from (bytes,
// trust store, optional expected tool identity, current time) to an
// outcome; it performs no network I/O, matching spec.md §4.E's closing
// paragraph.
package verify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/fed4fire/speaksfor/canon"
	"github.com/fed4fire/speaksfor/credential"
	"github.com/fed4fire/speaksfor/ferr"
	"github.com/fed4fire/speaksfor/fingerprint"
	"github.com/fed4fire/speaksfor/trust"
)

// Options carries everything Verify needs beyond the credential bytes
// themselves.
type Options struct {
	Trust *trust.Store

	// ExpectedToolCert and ExpectedToolKeyID are mutually exclusive (spec.md
	// §6's -t/-k flags). Supplying both is a UsageConflict. Supplying
	// neither skips Stage 6 with a warning rather than a failure, per
	// spec.md §4.E.6 and the Open Question in §9.
	ExpectedToolCert  *x509.Certificate
	ExpectedToolKeyID string

	// Now, if non-zero, replaces time.Now() for Stage 4 — lets tests pin
	// scenario 5 of spec.md §8 (expired credentials) deterministically.
	Now time.Time
}

// Result is the successful outcome of Verify: the parsed document plus any
// non-fatal warnings (currently only Stage 6's "no tool identity supplied").
type Result struct {
	Document *credential.SpeaksForDocument
	Warnings []string
}

// Verify runs the pipeline against data. If any stage fails, later stages do
// not run and the returned error identifies which stage and why. Stage 3
// (trust chain) runs only when opts.Trust is non-nil; with a nil Trust it is
// skipped without a warning.
func Verify(data []byte, opts Options) (*Result, error) {
	if opts.ExpectedToolCert != nil && opts.ExpectedToolKeyID != "" {
		return nil, ferr.New(ferr.UsageConflict, "verify: tool certificate and tool keyid are mutually exclusive")
	}

	// Stage 1 — schema.
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	doc, err := credential.Parse(data)
	if err != nil {
		return nil, err
	}

	// Stage 2 — XML signature.
	if err := verifySignature(doc); err != nil {
		return nil, err
	}

	// Stage 3 — trust chain.
	if opts.Trust != nil {
		if err := opts.Trust.Verify(doc.SigningChain); err != nil {
			return nil, err
		}
	}

	// Stage 4 — expiration.
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	expires, err := parseExpires(doc.ExpiresRaw)
	if err != nil {
		return nil, err
	}
	if !now.Before(expires) {
		return nil, ferr.New(ferr.Expired, "verify: credential expired at %s", expires.Format(time.RFC3339))
	}

	// Stage 5 — head binding.
	if len(doc.SigningChain) == 0 {
		return nil, ferr.New(ferr.SignatureInvalid, "verify: no signing certificate to bind against")
	}
	signerKeyID, err := fingerprint.KeyID(doc.SigningChain[0])
	if err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("verify: KeyId(signer): %w", err))
	}
	if doc.HeadKeyID != signerKeyID {
		return nil, ferr.New(ferr.KeyBindingMismatch, "verify: head keyid %q does not match signing certificate keyid %q", doc.HeadKeyID, signerKeyID)
	}

	result := &Result{Document: doc}

	// Stage 6 — tail binding (optional).
	switch {
	case opts.ExpectedToolCert != nil:
		expectedKeyID, err := fingerprint.KeyID(opts.ExpectedToolCert)
		if err != nil {
			return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("verify: KeyId(expected tool): %w", err))
		}
		if doc.TailKeyID != expectedKeyID {
			return nil, ferr.New(ferr.KeyBindingMismatch, "verify: tail keyid %q does not match expected tool keyid %q", doc.TailKeyID, expectedKeyID)
		}
	case opts.ExpectedToolKeyID != "":
		if doc.TailKeyID != opts.ExpectedToolKeyID {
			return nil, ferr.New(ferr.KeyBindingMismatch, "verify: tail keyid %q does not match expected keyid %q", doc.TailKeyID, opts.ExpectedToolKeyID)
		}
	default:
		result.Warnings = append(result.Warnings, "no expected tool identity supplied; tail keyid binding was not checked")
	}

	return result, nil
}

// verifySignature implements Stage 2: locate the Signature element,
// recompute the Reference digest over the referenced element, and verify
// SignatureValue against the canonicalized SignedInfo using the public key
// in KeyInfo's X509Data (first certificate), as spec.md §4.E.2 requires.
func verifySignature(doc *credential.SpeaksForDocument) error {
	if doc.Signature == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: no Signature element found")
	}
	if len(doc.SigningChain) == 0 {
		return ferr.New(ferr.SignatureInvalid, "verify: Signature KeyInfo has no X509Certificate")
	}

	signedInfo := findChild(doc.Signature, "SignedInfo")
	if signedInfo == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: Signature has no SignedInfo")
	}
	reference := findChild(signedInfo, "Reference")
	if reference == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: SignedInfo has no Reference")
	}
	digestValueEl := findChild(reference, "DigestValue")
	if digestValueEl == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: Reference has no DigestValue")
	}

	uri := reference.SelectAttrValue("URI", "")
	refID := trimLeadingHash(uri)
	referenced := findElementByID(doc.Root, refID)
	if referenced == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: Reference URI %q does not resolve to any element", uri)
	}

	canonicalRef, err := canon.Canonicalize(referenced)
	if err != nil {
		return ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("verify: canonicalize referenced element: %w", err))
	}
	sum := sha1.Sum(canonicalRef)
	gotDigest := base64.StdEncoding.EncodeToString(sum[:])
	if gotDigest != digestValueEl.Text() {
		return ferr.New(ferr.SignatureInvalid, "verify: digest mismatch on referenced element")
	}

	canonicalSignedInfo, err := canon.Canonicalize(signedInfo)
	if err != nil {
		return ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("verify: canonicalize SignedInfo: %w", err))
	}
	signedInfoSum := sha1.Sum(canonicalSignedInfo)

	signatureValueEl := findChild(doc.Signature, "SignatureValue")
	if signatureValueEl == nil {
		return ferr.New(ferr.SignatureInvalid, "verify: Signature has no SignatureValue")
	}
	sigBytes, err := decodeBase64Lines(signatureValueEl.Text())
	if err != nil {
		return ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("verify: decode SignatureValue: %w", err))
	}

	pub, ok := doc.SigningChain[0].PublicKey.(*rsa.PublicKey)
	if !ok {
		return ferr.New(ferr.SignatureInvalid, "verify: signing certificate public key is %T, not RSA", doc.SigningChain[0].PublicKey)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, signedInfoSum[:], sigBytes); err != nil {
		return ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("verify: RSA-SHA1 signature check failed: %w", err))
	}

	return nil
}

func findChild(el *etree.Element, localName string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == localName {
			return child
		}
	}
	return nil
}

func findElementByID(root *etree.Element, id string) *etree.Element {
	if root.SelectAttrValue("id", "") == id {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findElementByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func trimLeadingHash(uri string) string {
	if len(uri) > 0 && uri[0] == '#' {
		return uri[1:]
	}
	return uri
}

// parseExpires parses an ISO-8601 UTC instant, tolerating both the
// milliseconds-included form this toolkit emits and the bare-seconds form
// spec.md §4.D.1 says is also acceptable.
func parseExpires(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ferr.New(ferr.InputParse, "verify: cannot parse expires %q", raw)
}
