package bundle

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/fed4fire/speaksfor/ferr"
)

// loadPEM scans data for the armor pairs spec.md §4.A lists and decodes each
// region it finds. Exactly one private-key region must be present; multiple
// or zero keys are fatal. Certificate order in the PEM defines chain order.
func loadPEM(data []byte, password string) (*CredentialBundle, error) {
	var (
		key       *rsa.PrivateKey
		keyBlocks int
		certs     []*x509.Certificate
	)

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			keyBlocks++
			parsed, err := decodePKCS1(block, password)
			if err != nil {
				return nil, err
			}
			key = parsed
		case "PRIVATE KEY":
			keyBlocks++
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: parse PKCS#8 private key: %w", err))
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, ferr.New(ferr.InputParse, "bundle: PKCS#8 private key is %T, not RSA", parsed)
			}
			key = rsaKey
		case "ENCRYPTED PRIVATE KEY":
			keyBlocks++
			parsed, err := decodePKCS8Encrypted(block.Bytes, password)
			if err != nil {
				return nil, err
			}
			key = parsed
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: parse certificate: %w", err))
			}
			certs = append(certs, cert)
		}
	}

	if keyBlocks == 0 {
		return nil, ferr.New(ferr.InputParse, "bundle: no private key found in PEM input")
	}
	if keyBlocks > 1 {
		return nil, ferr.New(ferr.KeyAmbiguity, "bundle: %d private keys found in PEM input, expected exactly one", keyBlocks)
	}

	return &CredentialBundle{PrivateKey: key, Chain: certs}, nil
}

// decodePKCS1 parses a "RSA PRIVATE KEY" block, decrypting it first if its
// headers carry "Proc-Type: 4,ENCRYPTED" (the legacy OpenSSL PEM encryption
// convention). An empty or wrong password against an encrypted key fails with
// a KeyDecryption error, per spec.md §4.A.
func decodePKCS1(block *pem.Block, password string) (*rsa.PrivateKey, error) {
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck — this ecosystem's deployed
		// producers still emit legacy OpenSSL PEM encryption; the stdlib
		// decrypt routine is deprecated but remains the correct decoder.
		decrypted, err := x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, ferr.New(ferr.KeyDecryption, "Private key decryption failed. Invalid password?")
		}
		der = decrypted
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			// Legacy PEM decryption cannot always detect a wrong password;
			// undecodable plaintext is the other sign of one.
			return nil, ferr.New(ferr.KeyDecryption, "Private key decryption failed. Invalid password?")
		}
		return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: parse PKCS#1 private key: %w", err))
	}
	return key, nil
}
