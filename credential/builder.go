package credential

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/fed4fire/speaksfor/bundle"
	"github.com/fed4fire/speaksfor/canon"
	"github.com/fed4fire/speaksfor/ferr"
	"github.com/fed4fire/speaksfor/fingerprint"
	"github.com/google/uuid"
)

// DefaultValidityDays is the credential lifetime used when Builder.Days is
// zero, matching spec.md §4.D's default of 120 days.
const DefaultValidityDays = 120

const dsigNS = "http://www.w3.org/2000/09/xmldsig#"

// Builder assembles and signs a speaks-for credential per spec.md §4.D:
// render the ABAC template, attach the signer's chain as KeyInfo, and
// produce an enveloped RSA-SHA1 XML-DSig signature over the <credential>
// element.
type Builder struct {
	Signer *bundle.CredentialBundle
	Tool   *x509.Certificate
	Days   int

	// Now, if non-zero, is used instead of time.Now() to compute expires —
	// lets tests pin scenario 5 of spec.md §8 (d = -1) deterministically.
	Now time.Time
}

// Build renders, embeds, and signs the credential, returning the serialized
// XML. A caller may additionally base64 it for transport (spec.md §4.D.6) —
// that is boundary work handled by the CLI layer, not this package.
func (b *Builder) Build() ([]byte, error) {
	if b.Signer == nil || b.Signer.EndEntity() == nil {
		return nil, ferr.New(ferr.InputParse, "credential: builder has no signer bundle")
	}
	if b.Tool == nil {
		return nil, ferr.New(ferr.InputParse, "credential: builder has no tool certificate")
	}

	days := b.Days
	if days == 0 {
		days = DefaultValidityDays
	}
	now := b.Now
	if now.IsZero() {
		now = time.Now()
	}
	expires := now.Add(time.Duration(days) * 24 * time.Hour).UTC()

	userKeyhash, err := fingerprint.KeyID(b.Signer.EndEntity())
	if err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("credential: KeyId(signer): %w", err))
	}
	toolKeyhash, err := fingerprint.KeyID(b.Tool)
	if err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("credential: KeyId(tool): %w", err))
	}

	body := renderCredential(
		uuid.NewString(),
		expires.Format("2006-01-02T15:04:05.000Z"),
		userKeyhash,
		toolKeyhash,
	)

	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("credential: parse rendered template: %w", err))
	}
	// Reflow whitespace before anything gets digested: Exclusive C14N
	// preserves inter-element whitespace, so the Reference digest must be
	// computed over the same bytes this function eventually serializes, not
	// over the template's as-rendered indentation.
	doc.Indent(0)
	root := doc.Root()

	credEl := findByLocalName(root, "credential")
	if credEl == nil {
		return nil, ferr.New(ferr.InputParse, "credential: rendered template has no <credential> element")
	}
	sigsEl := findByLocalName(root, "signatures")
	if sigsEl == nil {
		return nil, ferr.New(ferr.InputParse, "credential: rendered template has no <signatures> element")
	}

	sigEl, err := b.buildSignature(credEl)
	if err != nil {
		return nil, err
	}
	sigsEl.AddChild(sigEl)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("credential: serialize signed document: %w", err))
	}
	return out, nil
}

// buildSignature produces the enveloped <Signature> element referencing
// credEl by its id attribute, per spec.md §4.D.5.
func (b *Builder) buildSignature(credEl *etree.Element) (*etree.Element, error) {
	refID := credEl.SelectAttrValue("id", "")
	if refID == "" {
		return nil, ferr.New(ferr.InputParse, "credential: <credential> element has no id attribute")
	}

	digest, err := digestElement(credEl)
	if err != nil {
		return nil, err
	}

	sigEl := etree.NewElement("Signature")
	sigEl.Space = ""
	sigEl.CreateAttr("xmlns", dsigNS)

	// SignedInfo is built and canonicalized as a child of the already
	// namespaced Signature, and it also declares xmlns itself: Exclusive
	// C14N resolves inherited namespaces from the node's context at the
	// moment it is canonicalized, so a SignedInfo canonicalized detached (no
	// ancestor, no self-declared xmlns) would produce different bytes than
	// the same element read back out of the signed document later (a child
	// of Signature, as verify.go sees it). Attaching it here and having it
	// declare its own xmlns makes the canonical form identical either way.
	signedInfo := buildSignedInfo(refID, digest)
	sigEl.AddChild(signedInfo)

	signedInfoBytes, err := canon.Canonicalize(signedInfo)
	if err != nil {
		return nil, ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("credential: canonicalize SignedInfo: %w", err))
	}
	sum := sha1.Sum(signedInfoBytes)
	sigValue, err := rsa.SignPKCS1v15(rand.Reader, b.Signer.PrivateKey, crypto.SHA1, sum[:])
	if err != nil {
		return nil, ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("credential: sign SignedInfo: %w", err))
	}

	sigValueEl := sigEl.CreateElement("SignatureValue")
	sigValueEl.SetText(wrapBase64Lines(sigValue))

	keyInfoEl := sigEl.CreateElement("KeyInfo")
	keyValueEl := keyInfoEl.CreateElement("KeyValue")
	rsaKeyValueEl := keyValueEl.CreateElement("RSAKeyValue")
	rsaKeyValueEl.CreateElement("Modulus").SetText(fingerprint.EncodeModulus(&b.Signer.PrivateKey.PublicKey))
	rsaKeyValueEl.CreateElement("Exponent").SetText(fingerprint.EncodeExponent(&b.Signer.PrivateKey.PublicKey))

	x509DataEl := keyInfoEl.CreateElement("X509Data")
	for _, cert := range b.Signer.Chain {
		pemBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
		x509DataEl.CreateElement("X509Certificate").SetText(fingerprint.EncodeCertificateDER(pemBlock))
	}

	return sigEl, nil
}

// digestElement canonicalizes el and returns its SHA-1 digest, base64
// encoded — the DigestValue of the sole Reference, per spec.md §4.D.5.
func digestElement(el *etree.Element) (string, error) {
	canonical, err := canon.Canonicalize(el)
	if err != nil {
		return "", ferr.Wrap(ferr.SignatureInvalid, "", fmt.Errorf("credential: canonicalize <credential>: %w", err))
	}
	sum := sha1.Sum(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// buildSignedInfo constructs the <SignedInfo> element: Exclusive C14N
// canonicalization method, RSA-SHA1 signature method, and the single
// Reference selecting refID with a matching Transform and DigestValue.
func buildSignedInfo(refID, digestValue string) *etree.Element {
	signedInfo := etree.NewElement("SignedInfo")
	signedInfo.CreateAttr("xmlns", dsigNS)

	c14nEl := signedInfo.CreateElement("CanonicalizationMethod")
	c14nEl.CreateAttr("Algorithm", canon.Algorithm)

	sigMethodEl := signedInfo.CreateElement("SignatureMethod")
	sigMethodEl.CreateAttr("Algorithm", "http://www.w3.org/2000/09/xmldsig#rsa-sha1")

	refEl := signedInfo.CreateElement("Reference")
	refEl.CreateAttr("URI", "#"+refID)

	transformsEl := refEl.CreateElement("Transforms")
	transformEl := transformsEl.CreateElement("Transform")
	transformEl.CreateAttr("Algorithm", canon.Algorithm)

	digestMethodEl := refEl.CreateElement("DigestMethod")
	digestMethodEl.CreateAttr("Algorithm", "http://www.w3.org/2000/09/xmldsig#sha1")

	refEl.CreateElement("DigestValue").SetText(digestValue)

	return signedInfo
}

// wrapBase64Lines base64-encodes data with 64-column wrapping, the same
// convention fingerprint.wrapBase64 uses for Modulus/Exponent, applied here
// to SignatureValue.
func wrapBase64Lines(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var out []byte
	for i := 0; i < len(enc); i += 64 {
		end := i + 64
		if end > len(enc) {
			end = len(enc)
		}
		out = append(out, enc[i:end]...)
		if end < len(enc) {
			out = append(out, '\n')
		}
	}
	return string(out)
}
