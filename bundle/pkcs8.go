package bundle

import (
	"crypto/rsa"

	"github.com/fed4fire/speaksfor/ferr"
	youmarkpkcs8 "github.com/youmark/pkcs8"
)

// decodePKCS8Encrypted decrypts an "ENCRYPTED PRIVATE KEY" DER blob with
// password. An empty or wrong password fails with a KeyDecryption error, per
// spec.md §4.A.
func decodePKCS8Encrypted(der []byte, password string) (*rsa.PrivateKey, error) {
	parsed, err := youmarkpkcs8.ParsePKCS8PrivateKey(der, []byte(password))
	if err != nil {
		return nil, ferr.New(ferr.KeyDecryption, "Private key decryption failed. Invalid password?")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ferr.New(ferr.InputParse, "bundle: encrypted PKCS#8 private key is %T, not RSA", parsed)
	}
	return key, nil
}
