// Package bundle loads a signer's private key and certificate chain from PEM
// (PKCS#5/PKCS#8, plain or encrypted) or PKCS#12 input into a uniform
// CredentialBundle, and exposes Certificate accessors the credential builder
// and verifier need (SubjectAltName entries, the tool publicId).
package bundle

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/fed4fire/speaksfor/ferr"
)

// Format selects how the input blob in Load is interpreted.
type Format string

const (
	// FormatPEM is plain or encrypted PEM: PKCS#5/PKCS#8 private key plus
	// zero or more certificates, in file order.
	FormatPEM Format = "pem"
	// FormatP12 is a DER-encoded PKCS#12 / PFX container.
	FormatP12 Format = "p12"
)

// Certificate wraps *x509.Certificate with the accessors the data model
// requires: SubjectAltName entries and the urn:publicid: tool identity.
type Certificate struct {
	*x509.Certificate
}

// AltName is one SubjectAltName entry (type, value) as exposed by the data
// model — the loader surfaces at least URI-typed entries.
type AltName struct {
	Type  string
	Value string
}

// AltNames returns the certificate's SubjectAltName entries. Only URI names
// are populated; DNS/IP/email names are not part of this domain's ABAC
// identity model.
func (c *Certificate) AltNames() []AltName {
	var out []AltName
	for _, uri := range c.URIs {
		out = append(out, AltName{Type: "URI", Value: uri.String()})
	}
	return out
}

// PublicID returns the first URI SubjectAltName value that begins
// "urn:publicid:" — the tool's human-readable identity — or "" if none.
func (c *Certificate) PublicID() string {
	const prefix = "urn:publicid:"
	for _, n := range c.AltNames() {
		if n.Type == "URI" && len(n.Value) >= len(prefix) && n.Value[:len(prefix)] == prefix {
			return n.Value
		}
	}
	return ""
}

// CredentialBundle is an owned private signing key and its ordered
// certificate chain, chain[0] being the end-entity certificate matching the
// key. Confined to a single invocation; never persisted.
type CredentialBundle struct {
	PrivateKey *rsa.PrivateKey
	Chain      []*x509.Certificate
}

// EndEntity returns the signer's own certificate (chain[0]).
func (b *CredentialBundle) EndEntity() *x509.Certificate {
	if len(b.Chain) == 0 {
		return nil
	}
	return b.Chain[0]
}

// Load parses data per format, validates the loader-wide invariant
// publicKey(chain[0]) == publicKey(privateKey), and returns a CredentialBundle.
func Load(data []byte, format Format, password string) (*CredentialBundle, error) {
	var b *CredentialBundle
	var err error
	switch format {
	case FormatPEM:
		b, err = loadPEM(data, password)
	case FormatP12:
		b, err = loadPKCS12(data, password, password)
	default:
		return nil, ferr.New(ferr.InputParse, "bundle: unknown format %q (want %q or %q)", format, FormatPEM, FormatP12)
	}
	if err != nil {
		return nil, err
	}
	if len(b.Chain) == 0 {
		return nil, ferr.New(ferr.InputParse, "bundle: no end-entity certificate loaded")
	}
	pub, ok := b.Chain[0].PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ferr.New(ferr.InputParse, "bundle: end-entity certificate public key is %T, not RSA", b.Chain[0].PublicKey)
	}
	if pub.N.Cmp(b.PrivateKey.N) != 0 || pub.E != b.PrivateKey.E {
		return nil, ferr.New(ferr.InputParse, "bundle: end-entity certificate public key does not match private key")
	}
	return b, nil
}

// LoadCertificate parses a single bare PEM certificate — used for a tool
// certificate supplied independently of a signing bundle.
func LoadCertificate(pemData []byte) (*Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ferr.New(ferr.InputParse, "bundle: no CERTIFICATE PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: parse certificate: %w", err))
	}
	return &Certificate{Certificate: cert}, nil
}

