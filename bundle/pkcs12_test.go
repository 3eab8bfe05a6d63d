package bundle

import (
	"crypto/x509"
	"testing"

	"github.com/fed4fire/speaksfor/ferr"
	"software.sslmate.com/src/go-pkcs12"
)

// TestLoadPKCS12_LegacyDES_SinglePassword verifies that the go-pkcs12 fast
// path handles the traditional single-password, 3DES-encrypted layout most
// real-world PKCS#12 files still use.
func TestLoadPKCS12_LegacyDES_SinglePassword(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	const pw = "changeit"
	pfxData, err := pkcs12.LegacyDES.Encode(key, cert, nil, pw)
	if err != nil {
		t.Fatalf("encode LegacyDES PKCS12: %v", err)
	}

	b, err := loadPKCS12(pfxData, pw, pw)
	if err != nil {
		t.Fatalf("loadPKCS12: %v", err)
	}
	if b.PrivateKey.D.Cmp(key.D) != 0 {
		t.Errorf("loadPKCS12 returned the wrong key")
	}
	if len(b.Chain) != 1 || b.Chain[0].SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Errorf("loadPKCS12 did not recover the certificate into Chain")
	}
}

// TestLoadPKCS12_Modern2023_SinglePassword verifies the PBES2/AES-256-CBC
// layout newer tooling (Java 9+, recent OpenSSL) produces.
func TestLoadPKCS12_Modern2023_SinglePassword(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	const pw = "changeit"
	pfxData, err := pkcs12.Modern2023.Encode(key, cert, nil, pw)
	if err != nil {
		t.Fatalf("encode Modern2023 PKCS12: %v", err)
	}

	b, err := loadPKCS12(pfxData, pw, pw)
	if err != nil {
		t.Fatalf("loadPKCS12: %v", err)
	}
	if b.PrivateKey.D.Cmp(key.D) != 0 {
		t.Errorf("loadPKCS12 returned the wrong key")
	}
}

// TestLoadPKCS12_WrongPassword verifies that a wrong password surfaces as an
// error rather than a zero-value bundle.
func TestLoadPKCS12_WrongPassword(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	pfxData, err := pkcs12.LegacyDES.Encode(key, cert, nil, "changeit")
	if err != nil {
		t.Fatalf("encode PKCS12: %v", err)
	}

	_, err = loadPKCS12(pfxData, "wrongpassword", "wrongpassword")
	if err == nil {
		t.Fatal("loadPKCS12: expected error for wrong password, got nil")
	}
}

// TestLoadPKCS12DualPassword_ManualWalk verifies the manual ASN.1 walker
// directly, independent of the go-pkcs12 fast path, including chain
// recovery via certBag traversal.
func TestLoadPKCS12DualPassword_ManualWalk(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	const pw = "changeit"
	pfxData, err := pkcs12.LegacyDES.Encode(key, cert, nil, pw)
	if err != nil {
		t.Fatalf("encode LegacyDES PKCS12: %v", err)
	}

	gotKey, certs, _, err := loadPKCS12DualPassword(pfxData, pw, pw)
	if err != nil {
		t.Fatalf("loadPKCS12DualPassword: %v", err)
	}
	if gotKey == nil || gotKey.D.Cmp(key.D) != 0 {
		t.Errorf("loadPKCS12DualPassword returned the wrong key")
	}
	if len(certs) != 1 || certs[0].SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Errorf("loadPKCS12DualPassword did not recover the certificate via certBag")
	}
}

// TestAssembleFromBags_DivergentKeyIDs verifies the spec's single-key-ID
// invariant: when two SafeBags carry different localKeyId values, assembly
// fails with the exact KeyAmbiguity message spec.md §4.A requires.
func TestAssembleFromBags_DivergentKeyIDs(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	_, err := assembleFromBags(key, []*x509.Certificate{cert}, []string{"aa", "bb"})
	fe, ok := err.(*ferr.Error)
	if !ok {
		t.Fatalf("assembleFromBags: want *ferr.Error, got %T (%v)", err, err)
	}
	if fe.Kind != ferr.KeyAmbiguity {
		t.Fatalf("assembleFromBags: Kind = %v, want %v", fe.Kind, ferr.KeyAmbiguity)
	}
	if fe.Error() != "KeyAmbiguity: PKCS#12 credential can only contain one single key ID" {
		t.Errorf("assembleFromBags: Error() = %q", fe.Error())
	}
}

// TestAssembleFromBags_MatchingKeyIDs verifies that identical localKeyId
// values across bags are accepted.
func TestAssembleFromBags_MatchingKeyIDs(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	b, err := assembleFromBags(key, []*x509.Certificate{cert}, []string{"aa", "aa"})
	if err != nil {
		t.Fatalf("assembleFromBags: %v", err)
	}
	if b.PrivateKey != key {
		t.Errorf("assembleFromBags did not preserve the key")
	}
}

// TestAssembleFromBags_NoKey verifies that a PKCS#12 file with certificates
// but no pkcs8ShroudedKeyBag is rejected.
func TestAssembleFromBags_NoKey(t *testing.T) {
	key := generateTestRSA(t)
	cert := selfSignedCert(t, key)

	_, err := assembleFromBags(nil, []*x509.Certificate{cert}, nil)
	if !ferr.Is(err, ferr.InputParse) {
		t.Fatalf("assembleFromBags: want InputParse, got %v", err)
	}
}
