package bundle

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/fed4fire/speaksfor/ferr"
)

// TestLoadPEM_EncryptedPKCS1_WrongPassword verifies the literal error message
// spec.md §4.A requires for a legacy OpenSSL "Proc-Type: 4,ENCRYPTED" key
// decrypted with the wrong password.
func TestLoadPEM_EncryptedPKCS1_WrongPassword(t *testing.T) {
	key := generateTestRSA(t)
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), []byte("correct horse"), x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		t.Fatalf("EncryptPEMBlock: %v", err)
	}
	data := pem.EncodeToMemory(block)

	_, err = loadPEM(data, "wrong password")
	fe, ok := err.(*ferr.Error)
	if !ok {
		t.Fatalf("loadPEM: want *ferr.Error, got %T (%v)", err, err)
	}
	if fe.Kind != ferr.KeyDecryption {
		t.Fatalf("loadPEM: Kind = %v, want %v", fe.Kind, ferr.KeyDecryption)
	}
	if fe.Error() != "KeyDecryption: Private key decryption failed. Invalid password?" {
		t.Errorf("loadPEM: Error() = %q", fe.Error())
	}
}

// TestLoadPEM_EncryptedPKCS1_CorrectPassword verifies the matching success
// path for the same legacy encryption scheme.
func TestLoadPEM_EncryptedPKCS1_CorrectPassword(t *testing.T) {
	key := generateTestRSA(t)
	const password = "correct horse"
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), []byte(password), x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		t.Fatalf("EncryptPEMBlock: %v", err)
	}
	data := pem.EncodeToMemory(block)
	cert := selfSignedCert(t, key)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)

	b, err := loadPEM(data, password)
	if err != nil {
		t.Fatalf("loadPEM: %v", err)
	}
	if b.PrivateKey.D.Cmp(key.D) != 0 {
		t.Errorf("loadPEM decrypted to the wrong key")
	}
}

// TestLoadPEM_MultipleKeys verifies that more than one private key in a
// single PEM input is a KeyAmbiguity error, per spec.md §4.A.
func TestLoadPEM_MultipleKeys(t *testing.T) {
	key1 := generateTestRSA(t)
	key2 := generateTestRSA(t)
	var data []byte
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key1)})...)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key2)})...)

	_, err := loadPEM(data, "")
	if !ferr.Is(err, ferr.KeyAmbiguity) {
		t.Fatalf("loadPEM: want KeyAmbiguity, got %v", err)
	}
}

// TestLoadPEM_PlainPKCS8 verifies the unencrypted PKCS#8 "PRIVATE KEY" block
// type decodes correctly.
func TestLoadPEM_PlainPKCS8(t *testing.T) {
	key := generateTestRSA(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	cert := selfSignedCert(t, key)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)

	b, err := loadPEM(data, "")
	if err != nil {
		t.Fatalf("loadPEM: %v", err)
	}
	if b.PrivateKey.D.Cmp(key.D) != 0 {
		t.Errorf("loadPEM decoded to the wrong key")
	}
}

// TestLoadPEM_CertificateChainOrder verifies that certificate order in the
// PEM input determines chain order, end-entity first.
func TestLoadPEM_CertificateChainOrder(t *testing.T) {
	key := generateTestRSA(t)
	end := selfSignedCert(t, key)
	caKey := generateTestRSA(t)
	ca := selfSignedCert(t, caKey)

	var data []byte
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})...)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: end.Raw})...)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Raw})...)

	b, err := loadPEM(data, "")
	if err != nil {
		t.Fatalf("loadPEM: %v", err)
	}
	if len(b.Chain) != 2 {
		t.Fatalf("loadPEM: Chain has %d entries, want 2", len(b.Chain))
	}
	if b.Chain[0].SerialNumber.Cmp(end.SerialNumber) != 0 {
		t.Errorf("loadPEM: Chain[0] is not the end-entity certificate")
	}
}
