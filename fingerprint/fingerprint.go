// Package fingerprint computes ABAC key identifiers and renders RSA key
// material and DER certificates the way XML-DSig KeyInfo blocks expect them.
package fingerprint

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// KeyID returns the lowercase hex SHA-1 digest of the DER-encoded
// SubjectPublicKeyInfo of cert's public key — the ABAC principal identifier
// (keyid) used throughout the credential. Equivalent to
// `openssl x509 -pubkey | openssl rsa -pubin -outform DER | sha1`.
func KeyID(cert *x509.Certificate) (string, error) {
	return KeyIDFromPublicKey(cert.PublicKey)
}

// KeyIDFromPublicKey computes the same digest as KeyID directly from a public
// key, without requiring a surrounding certificate.
func KeyIDFromPublicKey(pub any) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal SubjectPublicKeyInfo: %w", err)
	}
	sum := sha1.Sum(der)
	return fmt.Sprintf("%x", sum[:]), nil
}

// EncodePositiveInteger renders n as an unambiguously non-negative big-endian
// byte sequence (a leading 0x00 is prepended when the high bit of the first
// byte is already set) and base64-wraps the result at column 64 using "\n"
// separators only — never "\r\n".
func EncodePositiveInteger(n *big.Int) string {
	raw := n.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}
	if raw[0]&0x80 != 0 {
		raw = append([]byte{0x00}, raw...)
	}
	return wrapBase64(raw)
}

// EncodeModulus renders pub.N the way an XML-DSig RSAKeyValue/Modulus element
// expects it.
func EncodeModulus(pub *rsa.PublicKey) string {
	return EncodePositiveInteger(pub.N)
}

// EncodeExponent renders pub.E the way an XML-DSig RSAKeyValue/Exponent
// element expects it.
func EncodeExponent(pub *rsa.PublicKey) string {
	return EncodePositiveInteger(big.NewInt(int64(pub.E)))
}

// wrapBase64 base64-encodes data and hard-wraps the output at 64 columns
// using bare "\n" line breaks, the line width XML-DSig KeyInfo blocks use.
func wrapBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var buf bytes.Buffer
	for i := 0; i < len(enc); i += 64 {
		end := i + 64
		if end > len(enc) {
			end = len(enc)
		}
		buf.WriteString(enc[i:end])
		if end < len(enc) {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EncodeCertificateDER strips PEM armor from a certificate, concatenates the
// remaining base64 lines, normalizes line endings to LF, and trims
// surrounding whitespace — the exact body an X509Certificate element expects.
func EncodeCertificateDER(pemCert []byte) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(string(pemCert), "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "-----") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
