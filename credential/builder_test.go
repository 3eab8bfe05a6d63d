package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/fed4fire/speaksfor/bundle"
	"github.com/fed4fire/speaksfor/ferr"
	"github.com/fed4fire/speaksfor/fingerprint"
)

// generateSelfSigned produces a small RSA key and self-signed certificate,
// used as both signer and tool fixtures.
func generateSelfSigned(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return key, cert
}

// TestBuilder_Build_HeadTailKeyIDs verifies scenario 1 of spec.md §8: the
// built credential's head/tail keyids equal the signer's and tool's KeyId.
func TestBuilder_Build_HeadTailKeyIDs(t *testing.T) {
	signerKey, signerCert := generateSelfSigned(t, "user")
	_, toolCert := generateSelfSigned(t, "tool")

	b := &Builder{
		Signer: &bundle.CredentialBundle{PrivateKey: signerKey, Chain: []*x509.Certificate{signerCert}},
		Tool:   toolCert,
		Days:   1,
	}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse built credential: %v", err)
	}

	wantHead, err := fingerprint.KeyID(signerCert)
	if err != nil {
		t.Fatalf("KeyID(signer): %v", err)
	}
	wantTail, err := fingerprint.KeyID(toolCert)
	if err != nil {
		t.Fatalf("KeyID(tool): %v", err)
	}
	if doc.HeadKeyID != wantHead {
		t.Errorf("HeadKeyID = %q, want %q", doc.HeadKeyID, wantHead)
	}
	if doc.TailKeyID != wantTail {
		t.Errorf("TailKeyID = %q, want %q", doc.TailKeyID, wantTail)
	}
	if doc.Signature == nil {
		t.Fatal("built credential has no Signature element")
	}
	if len(doc.SigningChain) != 1 {
		t.Fatalf("SigningChain has %d entries, want 1", len(doc.SigningChain))
	}
}

// TestBuilder_Build_ExpiresApproximatelyNowPlusDays verifies step 1 of
// spec.md §4.D: expires is now + days*86400000ms. The clock is pinned, so the
// rendered value is compared exactly.
func TestBuilder_Build_ExpiresApproximatelyNowPlusDays(t *testing.T) {
	signerKey, signerCert := generateSelfSigned(t, "user")
	_, toolCert := generateSelfSigned(t, "tool")

	pinnedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Builder{
		Signer: &bundle.CredentialBundle{PrivateKey: signerKey, Chain: []*x509.Certificate{signerCert}},
		Tool:   toolCert,
		Days:   1,
		Now:    pinnedNow,
	}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := pinnedNow.Add(24 * time.Hour).Format("2006-01-02T15:04:05.000Z")
	if doc.ExpiresRaw != want {
		t.Errorf("ExpiresRaw = %q, want %q", doc.ExpiresRaw, want)
	}
}

// TestBuilder_Build_DefaultDays verifies the 120-day default from spec.md
// §4.D applies when Days is left zero.
func TestBuilder_Build_DefaultDays(t *testing.T) {
	signerKey, signerCert := generateSelfSigned(t, "user")
	_, toolCert := generateSelfSigned(t, "tool")

	pinnedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Builder{
		Signer: &bundle.CredentialBundle{PrivateKey: signerKey, Chain: []*x509.Certificate{signerCert}},
		Tool:   toolCert,
		Now:    pinnedNow,
	}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := pinnedNow.Add(DefaultValidityDays * 24 * time.Hour).Format("2006-01-02T15:04:05.000Z")
	if doc.ExpiresRaw != want {
		t.Errorf("ExpiresRaw = %q, want %q", doc.ExpiresRaw, want)
	}
}

// TestBuilder_Build_NoSigner verifies a missing signer bundle is a fatal
// InputParse error rather than a panic.
func TestBuilder_Build_NoSigner(t *testing.T) {
	_, toolCert := generateSelfSigned(t, "tool")
	b := &Builder{Tool: toolCert}
	if _, err := b.Build(); !ferr.Is(err, ferr.InputParse) {
		t.Fatalf("Build: want InputParse with no signer, got %v", err)
	}
}
