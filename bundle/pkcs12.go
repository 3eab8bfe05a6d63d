package bundle

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"hash"
	"math/big"
	"unicode/utf16"

	"github.com/fed4fire/speaksfor/ferr"
	youmarkpkcs8 "github.com/youmark/pkcs8"
	xpbkdf2 "golang.org/x/crypto/pbkdf2"
	"software.sslmate.com/src/go-pkcs12"
)

// ---- PKCS#12 OIDs -----------------------------------------------------------

var (
	// RFC 7292 §A.2 — bag type OIDs
	oidPKCS8ShroudedKeyBag = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 2}
	oidCertBag             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 3}
	oidX509Certificate     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 22, 1}

	// RFC 2985 bag attribute OIDs
	oidLocalKeyID = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 21}

	// RFC 5652 / PKCS#7 content types
	oidDataContentType      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidEncryptedContentType = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 6}
)

// ---- minimal ASN.1 structures for PKCS12 traversal ------------------------

// pfxPDU is the outermost SEQUENCE of a PKCS12/PFX file (RFC 7292 §4).
type pfxPDU struct {
	Version  int
	AuthSafe pkcs12ContentInfo
	MacData  asn1.RawValue `asn1:"optional"`
}

// pkcs12ContentInfo mirrors ContentInfo from PKCS#7 (RFC 5652 §5.2).
type pkcs12ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	// [0] EXPLICIT ANY — we read it as a raw value and unwrap manually.
	Content asn1.RawValue `asn1:"tag:0,explicit,optional"`
}

// pkcs12Attribute mirrors PKCS12Attribute from RFC 7292 §4.2.
type pkcs12Attribute struct {
	ID     asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// pkcs12SafeBag mirrors SafeBag from RFC 7292 §4.2, including the optional
// bagAttributes set this loader needs to read localKeyId.
type pkcs12SafeBag struct {
	ID            asn1.ObjectIdentifier
	Value         asn1.RawValue     `asn1:"tag:0,explicit"`
	BagAttributes []pkcs12Attribute `asn1:"set,optional"`
}

// localKeyIDHex extracts the hex form of this bag's localKeyId attribute, if
// present.
func (b pkcs12SafeBag) localKeyIDHex() (string, bool) {
	for _, attr := range b.BagAttributes {
		if !attr.ID.Equal(oidLocalKeyID) {
			continue
		}
		var octets []byte
		if _, err := asn1.Unmarshal(attr.Values.Bytes, &octets); err != nil {
			continue
		}
		return hex.EncodeToString(octets), true
	}
	return "", false
}

// ---- Additional OIDs for PKCS#7 EncryptedData / PBE decryption -------------

var (
	oidPBES2  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}

	oidPBEWithSHAAnd3KeyTripleDESCBC = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 3}

	oidHmacWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 7}
	oidHmacWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	oidHmacWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}

	oidAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	oidAES192CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 22}
	oidAES256CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
)

type pkcs7EncryptedData struct {
	Version              int
	EncryptedContentInfo pkcs7EncryptedContentInfo
}

type pkcs7EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           asn1.RawValue `asn1:"tag:0,optional"`
}

type pbes2ASNParams struct {
	KDFAlg       pkix.AlgorithmIdentifier
	EncSchemeAlg pkix.AlgorithmIdentifier
}

type pbkdf2ASNParams struct {
	Salt           asn1.RawValue
	IterationCount int
	KeyLength      int                      `asn1:"optional"`
	PRFAlg         pkix.AlgorithmIdentifier `asn1:"optional"`
}

type pkcs12PBEASNParams struct {
	Salt       []byte
	Iterations int
}

// loadPKCS12 parses a PKCS#12/PFX file and returns a CredentialBundle built
// from its pkcs8ShroudedKeyBag (the private key) and certBag entries (the
// chain, in encounter order). Per spec.md §4.A, every localKeyId attribute
// found across all bags MUST coincide; divergence is a KeyAmbiguity error.
//
// storePassword and entryPassword are tried in combination, since real-world
// PKCS#12 files vary in whether the outer container and the individual key
// bag share one password or use two.
func loadPKCS12(data []byte, storePassword, entryPassword string) (*CredentialBundle, error) {
	if key, certs, err := loadPKCS12SinglePassword(data, entryPassword); err == nil {
		return assembleFromBags(key, certs, nil)
	}

	key, certs, keyIDs, err := loadPKCS12DualPassword(data, storePassword, entryPassword)
	if err != nil {
		if storePassword == entryPassword {
			return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: PKCS#12 decode failed: %w", err))
		}
		key, certs, keyIDs, err = loadPKCS12DualPassword(data, entryPassword, storePassword)
		if err != nil {
			return nil, ferr.Wrap(ferr.InputParse, "", fmt.Errorf("bundle: PKCS#12 decode failed: %w", err))
		}
	}
	return assembleFromBags(key, certs, keyIDs)
}

// assembleFromBags builds the final CredentialBundle, enforcing the single
// localKeyId invariant described in spec.md §4.A.
func assembleFromBags(key *rsa.PrivateKey, certs []*x509.Certificate, keyIDs []string) (*CredentialBundle, error) {
	unique := map[string]bool{}
	for _, id := range keyIDs {
		unique[id] = true
	}
	if len(unique) > 1 {
		return nil, ferr.New(ferr.KeyAmbiguity, "PKCS#12 credential can only contain one single key ID")
	}
	if key == nil {
		return nil, ferr.New(ferr.InputParse, "bundle: PKCS#12: no pkcs8ShroudedKeyBag found")
	}
	return &CredentialBundle{PrivateKey: key, Chain: certs}, nil
}

// loadPKCS12SinglePassword delegates to software.sslmate.com/src/go-pkcs12,
// which handles the common case where both passwords are the same.
func loadPKCS12SinglePassword(data []byte, password string) (*rsa.PrivateKey, []*x509.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("bundle: PKCS#12 key type %T is not RSA", key)
	}
	var chain []*x509.Certificate
	if cert != nil {
		chain = append(chain, cert)
	}
	return rsaKey, chain, nil
}

// loadPKCS12DualPassword manually walks the PKCS12 ASN.1 tree, decrypting
// every pkcs8ShroudedKeyBag with keyPassword and collecting every certBag
// into the chain, in encounter order. storePassword decrypts
// EncryptedData ContentInfo containers (the Java 9+ wrapping convention);
// keyPassword decrypts individual key bags. Also returns every localKeyId
// hex value found so the caller can enforce the single-key-ID invariant.
func loadPKCS12DualPassword(data []byte, storePassword, keyPassword string) (*rsa.PrivateKey, []*x509.Certificate, []string, error) {
	var pfx pfxPDU
	if rest, err := asn1.Unmarshal(data, &pfx); err != nil {
		return nil, nil, nil, fmt.Errorf("PKCS12 ASN.1 parse PFX: %w", err)
	} else if len(rest) != 0 {
		return nil, nil, nil, fmt.Errorf("PKCS12 trailing bytes after PFX (%d)", len(rest))
	}
	if !pfx.AuthSafe.ContentType.Equal(oidDataContentType) {
		return nil, nil, nil, fmt.Errorf("PKCS12 authSafe contentType unsupported: %v", pfx.AuthSafe.ContentType)
	}

	authSafeData, err := asn1UnwrapOctetString(pfx.AuthSafe.Content.Bytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("PKCS12 authSafe OCTET STRING: %w", err)
	}

	contentInfos, err := parseContentInfoSequence(authSafeData)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		key    *rsa.PrivateKey
		certs  []*x509.Certificate
		keyIDs []string
	)

	for _, ci := range contentInfos {
		safeContentsData, ok := unwrapSafeContents(ci, storePassword, keyPassword)
		if !ok {
			continue
		}

		bags, err := parseSafeBags(safeContentsData)
		if err != nil {
			continue
		}

		for _, bag := range bags {
			if id, hasID := bag.localKeyIDHex(); hasID {
				keyIDs = append(keyIDs, id)
			}

			switch {
			case bag.ID.Equal(oidPKCS8ShroudedKeyBag):
				iface, err := youmarkpkcs8.ParsePKCS8PrivateKey(bag.Value.Bytes, []byte(keyPassword))
				if err != nil {
					iface, err = decryptPKCS8ShroudedKeyBag(bag.Value.Bytes, keyPassword)
				}
				if err != nil {
					continue
				}
				if rsaKey, ok := iface.(*rsa.PrivateKey); ok {
					key = rsaKey
				}
			case bag.ID.Equal(oidCertBag):
				cert, err := parseCertBag(bag.Value.Bytes)
				if err == nil {
					certs = append(certs, cert)
				}
			}
		}
	}

	return key, certs, keyIDs, nil
}

// parseContentInfoSequence parses AuthenticatedSafe = SEQUENCE OF ContentInfo.
func parseContentInfoSequence(authSafeData []byte) ([]pkcs12ContentInfo, error) {
	var contentInfos []pkcs12ContentInfo
	if _, err := asn1.UnmarshalWithParams(authSafeData, &contentInfos, ""); err == nil && len(contentInfos) > 0 {
		return contentInfos, nil
	}
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(authSafeData, &seq); err != nil {
		return nil, fmt.Errorf("PKCS12 AuthenticatedSafe: %w", err)
	}
	rest := seq.Bytes
	for len(rest) > 0 {
		var ci pkcs12ContentInfo
		leftover, err := asn1.Unmarshal(rest, &ci)
		if err != nil {
			return nil, fmt.Errorf("PKCS12 ContentInfo element: %w", err)
		}
		contentInfos = append(contentInfos, ci)
		rest = leftover
	}
	return contentInfos, nil
}

// unwrapSafeContents resolves one ContentInfo to its plaintext SafeContents
// DER, handling both the traditional "data" (plaintext) and Java 9+
// "encryptedData" (container-encrypted) forms.
func unwrapSafeContents(ci pkcs12ContentInfo, storePassword, keyPassword string) ([]byte, bool) {
	switch {
	case ci.ContentType.Equal(oidDataContentType):
		data, err := asn1UnwrapOctetString(ci.Content.Bytes)
		return data, err == nil
	case ci.ContentType.Equal(oidEncryptedContentType):
		var encOuter pkcs7EncryptedData
		if _, err := asn1.Unmarshal(ci.Content.Bytes, &encOuter); err != nil {
			return nil, false
		}
		data, err := decryptPKCS7EncryptedContent(encOuter.EncryptedContentInfo, storePassword)
		if err != nil && keyPassword != storePassword {
			data, err = decryptPKCS7EncryptedContent(encOuter.EncryptedContentInfo, keyPassword)
		}
		return data, err == nil
	default:
		return nil, false
	}
}

// parseSafeBags parses SafeContents = SEQUENCE OF SafeBag.
func parseSafeBags(safeContentsData []byte) ([]pkcs12SafeBag, error) {
	var outerSeq asn1.RawValue
	if _, err := asn1.Unmarshal(safeContentsData, &outerSeq); err != nil {
		return nil, err
	}
	var bags []pkcs12SafeBag
	rest := outerSeq.Bytes
	for len(rest) > 0 {
		var bag pkcs12SafeBag
		leftover, err := asn1.Unmarshal(rest, &bag)
		if err != nil {
			break
		}
		bags = append(bags, bag)
		rest = leftover
	}
	return bags, nil
}

// parseCertBag extracts the DER certificate from a certBag's [0] EXPLICIT
// CertBag value (RFC 7292 §4.2.3), which wraps a certType OID plus the
// actual X509Certificate OCTET STRING.
func parseCertBag(value []byte) (*x509.Certificate, error) {
	var certBag struct {
		CertID    asn1.ObjectIdentifier
		CertValue asn1.RawValue `asn1:"tag:0,explicit"`
	}
	if _, err := asn1.Unmarshal(value, &certBag); err != nil {
		return nil, fmt.Errorf("CertBag: %w", err)
	}
	if !certBag.CertID.Equal(oidX509Certificate) {
		return nil, fmt.Errorf("CertBag: unsupported certType %v", certBag.CertID)
	}
	var der []byte
	if _, err := asn1.Unmarshal(certBag.CertValue.Bytes, &der); err != nil {
		return nil, fmt.Errorf("CertBag: X509Certificate OCTET STRING: %w", err)
	}
	return x509.ParseCertificate(der)
}

func asn1UnwrapOctetString(der []byte) ([]byte, error) {
	var octets []byte
	if _, err := asn1.Unmarshal(der, &octets); err != nil {
		return nil, fmt.Errorf("asn1 OCTET STRING: %w", err)
	}
	return octets, nil
}

// ---- PKCS#7 EncryptedData decryption helpers --------------------------------

func decryptPKCS7EncryptedContent(ci pkcs7EncryptedContentInfo, password string) ([]byte, error) {
	ciphertext := ci.EncryptedContent.Bytes
	algo := ci.ContentEncryptionAlgorithm
	switch {
	case algo.Algorithm.Equal(oidPBES2):
		return pbes2DecryptContent(algo.Parameters.FullBytes, ciphertext, []byte(password))
	case algo.Algorithm.Equal(oidPBEWithSHAAnd3KeyTripleDESCBC):
		return pkcs12TripleDESDecryptContent(algo.Parameters.FullBytes, ciphertext, pkcs12BMPPassword(password))
	default:
		return nil, fmt.Errorf("PKCS7 EncryptedContent: unsupported algorithm %v", algo.Algorithm)
	}
}

func pbes2DecryptContent(paramsFullBytes, ciphertext, password []byte) ([]byte, error) {
	var params pbes2ASNParams
	if _, err := asn1.Unmarshal(paramsFullBytes, &params); err != nil {
		return nil, fmt.Errorf("PBES2 params: %w", err)
	}
	if !params.KDFAlg.Algorithm.Equal(oidPBKDF2) {
		return nil, fmt.Errorf("PBES2: unsupported KDF %v", params.KDFAlg.Algorithm)
	}
	var kdf pbkdf2ASNParams
	if _, err := asn1.Unmarshal(params.KDFAlg.Parameters.FullBytes, &kdf); err != nil {
		return nil, fmt.Errorf("PBKDF2 params: %w", err)
	}
	if kdf.Salt.Tag != asn1.TagOctetString {
		return nil, fmt.Errorf("PBKDF2: unsupported salt type (tag %d)", kdf.Salt.Tag)
	}
	var hashFn func() hash.Hash
	switch {
	case kdf.PRFAlg.Algorithm.Equal(oidHmacWithSHA256), len(kdf.PRFAlg.Algorithm) == 0:
		hashFn = sha256.New
	case kdf.PRFAlg.Algorithm.Equal(oidHmacWithSHA1):
		hashFn = sha1.New
	case kdf.PRFAlg.Algorithm.Equal(oidHmacWithSHA512):
		hashFn = sha512.New
	default:
		return nil, fmt.Errorf("PBKDF2: unsupported PRF %v", kdf.PRFAlg.Algorithm)
	}
	var keyLen int
	switch {
	case params.EncSchemeAlg.Algorithm.Equal(oidAES256CBC):
		keyLen = 32
	case params.EncSchemeAlg.Algorithm.Equal(oidAES192CBC):
		keyLen = 24
	case params.EncSchemeAlg.Algorithm.Equal(oidAES128CBC):
		keyLen = 16
	default:
		return nil, fmt.Errorf("PBES2: unsupported encryption scheme %v", params.EncSchemeAlg.Algorithm)
	}
	key := xpbkdf2.Key(password, kdf.Salt.Bytes, kdf.IterationCount, keyLen, hashFn)
	iv := params.EncSchemeAlg.Parameters.Bytes
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("PBES2 AES cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("PBES2 AES: unexpected IV length %d (want %d)", len(iv), block.BlockSize())
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("PBES2: ciphertext length %d is not a multiple of block size %d", len(ciphertext), block.BlockSize())
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pbeUnpad(plaintext, block.BlockSize())
}

func pkcs12TripleDESDecryptContent(paramsFullBytes, ciphertext, bmpPassword []byte) ([]byte, error) {
	var params pkcs12PBEASNParams
	if _, err := asn1.Unmarshal(paramsFullBytes, &params); err != nil {
		return nil, fmt.Errorf("PKCS12 PBE params: %w", err)
	}
	sha1Hash := func(in []byte) []byte { s := sha1.Sum(in); return s[:] }
	key := pkcs12RFC7292KDF(sha1Hash, 20, 64, params.Salt, bmpPassword, params.Iterations, 1, 24)
	iv := pkcs12RFC7292KDF(sha1Hash, 20, 64, params.Salt, bmpPassword, params.Iterations, 2, 8)
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("PKCS12 3DES cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("PKCS12 3DES: ciphertext length %d is not block-aligned", len(ciphertext))
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pbeUnpad(plaintext, block.BlockSize())
}

func pkcs12BMPPassword(s string) []byte {
	encoded := utf16.Encode([]rune(s))
	out := make([]byte, len(encoded)*2+2)
	for i, r := range encoded {
		out[i*2] = byte(r >> 8)
		out[i*2+1] = byte(r)
	}
	return out
}

// pkcs12RFC7292KDF implements the PKCS#12 key derivation function defined in
// RFC 7292 Appendix B.2. hashFn is the hash function; u = hash output size in
// bytes; v = hash input block size in bytes.
func pkcs12RFC7292KDF(hashFn func([]byte) []byte, u, v int, salt, password []byte, iterations int, id byte, size int) []byte {
	D := bytes.Repeat([]byte{id}, v)
	S := pkcs12FillRepeats(salt, v)
	P := pkcs12FillRepeats(password, v)
	I := append(S, P...)
	c := (size + u - 1) / u
	A := make([]byte, c*u)
	one := big.NewInt(1)
	var IjBuf []byte
	for i := 0; i < c; i++ {
		Ai := hashFn(append(D, I...))
		for j := 1; j < iterations; j++ {
			Ai = hashFn(Ai)
		}
		copy(A[i*u:], Ai)
		if i < c-1 {
			B := make([]byte, 0, v)
			for len(B) < v {
				B = append(B, Ai...)
			}
			B = B[:v]
			Bbi := new(big.Int).SetBytes(B)
			Ij := new(big.Int)
			for j := 0; j < len(I)/v; j++ {
				Ij.SetBytes(I[j*v : (j+1)*v])
				Ij.Add(Ij, Bbi)
				Ij.Add(Ij, one)
				Ijb := Ij.Bytes()
				if len(Ijb) > v {
					Ijb = Ijb[len(Ijb)-v:]
				}
				if len(Ijb) < v {
					if IjBuf == nil {
						IjBuf = make([]byte, v)
					}
					n := v - len(Ijb)
					for k := 0; k < n; k++ {
						IjBuf[k] = 0
					}
					copy(IjBuf[n:], Ijb)
					Ijb = IjBuf
				}
				copy(I[j*v:(j+1)*v], Ijb)
			}
		}
	}
	return A[:size]
}

func pkcs12FillRepeats(data []byte, v int) []byte {
	if len(data) == 0 {
		return nil
	}
	outputLen := v * ((len(data) + v - 1) / v)
	out := bytes.Repeat(data, (outputLen+len(data)-1)/len(data))
	return out[:outputLen]
}

func pbeUnpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("PBE unpad: empty data")
	}
	psLen := int(data[len(data)-1])
	if psLen == 0 || psLen > blockSize || psLen > len(data) {
		return nil, fmt.Errorf("PBE unpad: invalid padding length %d (blockSize=%d)", psLen, blockSize)
	}
	for _, b := range data[len(data)-psLen:] {
		if int(b) != psLen {
			return nil, fmt.Errorf("PBE unpad: inconsistent padding bytes")
		}
	}
	return data[:len(data)-psLen], nil
}

// decryptPKCS8ShroudedKeyBag decrypts an EncryptedPrivateKeyInfo DER blob
// using the PBE algorithms in decryptPKCS7EncryptedContent. This serves as a
// fallback when youmark/pkcs8 doesn't support the algorithm (e.g. legacy
// PKCS#12 PBEWithSHAAnd3KeyTripleDESCBC).
func decryptPKCS8ShroudedKeyBag(encPKCS8DER []byte, password string) (interface{}, error) {
	var epki struct {
		Algorithm pkix.AlgorithmIdentifier
		Data      []byte
	}
	if _, err := asn1.Unmarshal(encPKCS8DER, &epki); err != nil {
		return nil, fmt.Errorf("parse EncryptedPrivateKeyInfo: %w", err)
	}
	ci := pkcs7EncryptedContentInfo{
		ContentEncryptionAlgorithm: epki.Algorithm,
		EncryptedContent: asn1.RawValue{
			Class: asn1.ClassContextSpecific,
			Tag:   0,
			Bytes: epki.Data,
		},
	}
	plaintext, err := decryptPKCS7EncryptedContent(ci, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt EncryptedPrivateKeyInfo: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(plaintext)
	if err != nil {
		return x509.ParsePKCS1PrivateKey(plaintext)
	}
	return key, nil
}
