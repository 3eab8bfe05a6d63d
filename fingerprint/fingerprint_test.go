package fingerprint

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"testing"
)

func generateCert(t *testing.T) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, der
}

func decodeB64(t *testing.T, wrapped string) []byte {
	t.Helper()
	joined := strings.ReplaceAll(wrapped, "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(joined)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	return decoded
}

// TestKeyID_MatchesManualSHA1 verifies that KeyID equals the SHA-1 digest of
// the DER SubjectPublicKeyInfo computed independently, per the spec's
// definitional invariant KeyId(cert) == SHA1(DER(SubjectPublicKeyInfo(cert))).
func TestKeyID_MatchesManualSHA1(t *testing.T) {
	cert, _ := generateCert(t)
	got, err := KeyID(cert)
	if err != nil {
		t.Fatalf("KeyID: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	sum := sha1.Sum(der)
	want := fmt.Sprintf("%x", sum[:])
	if got != want {
		t.Errorf("KeyID = %q, want %q", got, want)
	}
}

// TestKeyID_Lowercase ensures the hex digest never contains uppercase
// characters, since ABAC keyid comparisons are byte-exact.
func TestKeyID_Lowercase(t *testing.T) {
	cert, _ := generateCert(t)
	got, err := KeyID(cert)
	if err != nil {
		t.Fatalf("KeyID: %v", err)
	}
	if got != strings.ToLower(got) {
		t.Errorf("KeyID = %q contains uppercase", got)
	}
	if len(got) != 40 {
		t.Errorf("KeyID length = %d, want 40 (SHA-1 hex)", len(got))
	}
}

// TestEncodePositiveInteger_PrependsLeadingZero verifies that a value whose
// first byte has the high bit set gets an unambiguous 0x00 prefix, so the
// base64 body never decodes to a negative two's-complement integer.
func TestEncodePositiveInteger_PrependsLeadingZero(t *testing.T) {
	n := new(big.Int).SetBytes([]byte{0xFF, 0x01})
	decoded := decodeB64(t, EncodePositiveInteger(n))
	if decoded[0] != 0x00 {
		t.Errorf("expected leading 0x00 byte, got %#x", decoded[0])
	}
	if len(decoded) != 3 {
		t.Errorf("expected 3 decoded bytes (0x00 prefix + 2 value bytes), got %d", len(decoded))
	}
}

// TestEncodePositiveInteger_NoLeadingZeroWhenNotNeeded verifies the prefix is
// only added when actually required, matching DER's minimal-encoding rule.
func TestEncodePositiveInteger_NoLeadingZeroWhenNotNeeded(t *testing.T) {
	n := new(big.Int).SetBytes([]byte{0x7F, 0x01})
	decoded := decodeB64(t, EncodePositiveInteger(n))
	if len(decoded) != 2 {
		t.Errorf("expected 2 decoded bytes, got %d", len(decoded))
	}
}

// TestEncodePositiveInteger_WrapsAt64Columns verifies the base64 body is hard
// wrapped with bare "\n" (never "\r\n"), the line width XML-DSig KeyInfo
// blocks require for interoperability with existing verifiers.
func TestEncodePositiveInteger_WrapsAt64Columns(t *testing.T) {
	raw := make([]byte, 300)
	raw[0] = 0x01 // keep high bit clear so no extra prefix byte is added
	n := new(big.Int).SetBytes(raw)
	out := EncodePositiveInteger(n)
	if strings.Contains(out, "\r") {
		t.Errorf("output must not contain CR: %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 64 {
			t.Errorf("line exceeds 64 columns: %q (%d)", line, len(line))
		}
	}
}

// TestEncodeCertificateDER_StripsArmorAndWhitespace verifies that armor lines
// are removed, line endings normalized to LF, and the body trimmed — the
// shape an X509Certificate element body must have.
func TestEncodeCertificateDER_StripsArmorAndWhitespace(t *testing.T) {
	_, der := generateCert(t)
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	pemBytes := pem.EncodeToMemory(block)

	got := EncodeCertificateDER(pemBytes)
	if strings.Contains(got, "-----") {
		t.Errorf("encoded DER body still contains armor: %q", got)
	}
	if strings.HasPrefix(got, "\n") || strings.HasSuffix(got, "\n") {
		t.Errorf("encoded DER body has surrounding whitespace")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(got, "\n", ""))
	if err != nil {
		t.Fatalf("decode stripped body: %v", err)
	}
	if string(decoded) != string(der) {
		t.Errorf("stripped+decoded body does not round-trip to original DER")
	}
}
