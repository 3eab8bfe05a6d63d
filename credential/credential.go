// Package credential implements the ABAC speaks-for credential data model
// (spec.md §3) and the Credential Builder (spec.md §4.D): rendering the
// signed-credential XML, embedding the full certificate chain, and producing
// the enveloped RSA-SHA1 XML-DSig signature this ecosystem's deployed
// verifiers expect.
package credential

import (
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	"github.com/fed4fire/speaksfor/ferr"
)

// SpeaksForDocument is the structural view of a parsed credential (spec.md
// §3): the fields every verification stage after schema validation reads.
// Parse performs no trust or signature checks — it only extracts structure.
type SpeaksForDocument struct {
	Doc         *etree.Document
	Root        *etree.Element // <signed-credential>
	Credential  *etree.Element // <credential xml:id="ref0">
	Signature   *etree.Element // <Signature>, or nil if absent
	UUID        string
	ExpiresRaw  string
	HeadKeyID   string
	TailKeyID   string
	// SigningChain is extracted from the Signature's X509Data, end-entity
	// first, in document order. Empty if there is no Signature (or no
	// X509Data inside it).
	SigningChain []*x509.Certificate
}

// findByLocalName returns the first descendant of el (el included) whose
// local name matches name, or nil.
func findByLocalName(el *etree.Element, name string) *etree.Element {
	if el.Tag == name {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByLocalName(child, name); found != nil {
			return found
		}
	}
	return nil
}

// findAllByLocalName returns every descendant of el (el included) whose
// local name matches name, in document order.
func findAllByLocalName(el *etree.Element, name string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		if e.Tag == name {
			out = append(out, e)
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(el)
	return out
}

// Parse decodes data as XML and extracts the structural fields of a
// SpeaksForDocument. It performs no schema, signature, trust, expiration, or
// keyid validation — those belong to the verify package's staged pipeline.
// Parse fails only when the document is not well-formed XML or is missing
// the elements every credential must have.
func Parse(data []byte) (*SpeaksForDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("credential: parse XML: %w", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, ferr.New(ferr.InputParse, "credential: empty XML document")
	}

	cred := findByLocalName(root, "credential")
	if cred == nil {
		return nil, ferr.New(ferr.InputParse, "credential: no <credential> element found")
	}

	sfd := &SpeaksForDocument{Doc: doc, Root: root, Credential: cred}

	if uuidEl := findByLocalName(cred, "uuid"); uuidEl != nil {
		sfd.UUID = uuidEl.Text()
	}
	if expiresEl := findByLocalName(cred, "expires"); expiresEl != nil {
		sfd.ExpiresRaw = expiresEl.Text()
	}

	if headEl := findByLocalName(cred, "head"); headEl != nil {
		if keyidEl := findByLocalName(headEl, "keyid"); keyidEl != nil {
			sfd.HeadKeyID = keyidEl.Text()
		}
	}
	if tailEl := findByLocalName(cred, "tail"); tailEl != nil {
		if keyidEl := findByLocalName(tailEl, "keyid"); keyidEl != nil {
			sfd.TailKeyID = keyidEl.Text()
		}
	}

	sigs := findByLocalName(root, "signatures")
	if sigs != nil {
		if sig := findByLocalName(sigs, "Signature"); sig != nil {
			sfd.Signature = sig
			chain, err := extractX509Chain(sig)
			if err == nil {
				sfd.SigningChain = chain
			}
		}
	}

	return sfd, nil
}

// extractX509Chain reads every X509Certificate element inside sig's KeyInfo,
// in document order, and parses each as a DER certificate (each element's
// text is base64 per XML-DSig).
func extractX509Chain(sig *etree.Element) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for _, certEl := range findAllByLocalName(sig, "X509Certificate") {
		der, err := decodeBase64Lines(certEl.Text())
		if err != nil {
			return nil, fmt.Errorf("credential: decode X509Certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("credential: parse X509Certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
