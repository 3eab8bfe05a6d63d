// Package trust implements the OpenSSL subject-hash-indexed certificate
// authority directory this ecosystem uses as its trust anchor store: a
// folder of PEM certificates where each is reachable via a symlink named
// <hash>.0, <hash>.1, ... with <hash> being the lowercase hex of the first
// four bytes (little-endian) of SHA-1(DER(subject name)).
package trust

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fed4fire/speaksfor/ferr"
)

// Store is a loaded set of trust anchors plus the x509.CertPool built from
// them, ready to verify a chain.
type Store struct {
	dir   string
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// Load reads the first PEM certificate of every non-directory entry in dir
// into a Store, whatever the entry's name; the OpenSSL subject-hash names
// (<hash>.0, <hash>.1, ...) are not checked. Entries that are not valid PEM
// certificates are skipped with no error: the directory format tolerates
// stray files (e.g. the hash database OpenSSL itself sometimes leaves
// behind).
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ferr.Wrap(ferr.TrustChain, "malformed", fmt.Errorf("trust: read CA directory %s: %w", dir, err))
	}

	pool := x509.NewCertPool()
	var certs []*x509.Certificate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		pool.AddCert(cert)
		certs = append(certs, cert)
	}

	return &Store{dir: dir, pool: pool, certs: certs}, nil
}

// Hash computes the lowercase hex of the first four bytes of
// SHA-1(DER(subject)), interpreted little-endian, in the same <hash>.0 naming
// scheme `openssl x509 -hash`/c_rehash use for a CA directory's symlinks.
// It is not always the same value those tools produce: OpenSSL hashes a
// canonicalized form of the subject name (whitespace and case folded),
// while this hashes the raw DER as the certificate encodes it, so a subject
// whose DER differs from its canonical form will disagree. Load never
// relies on the symlink name matching what this returns, so the gap is
// harmless for anything in this package; treat Hash as this toolkit's own
// naming convention, not a drop-in replacement for `openssl x509 -hash`.
func Hash(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.RawSubject)
	return fmt.Sprintf("%08x", binary.LittleEndian.Uint32(sum[:4]))
}

// Outcome classifies the trust-chain verification result into the three
// sub-cases spec.md §4.E distinguishes for Stage 3.
type Outcome string

const (
	// Malformed marks a chain structurally broken (e.g. signature forged,
	// not a valid certificate). A missing issuer is reported as NotTrusted.
	Malformed Outcome = "malformed"
	// NotTrusted marks a chain that terminates at a root absent from the
	// trust store.
	NotTrusted Outcome = "notTrusted"
	// CertExpired marks a chain rejected purely because some certificate in
	// it has expired.
	CertExpired Outcome = "certExpired"
)

// Verify checks that chain (end-entity first, intermediates following) is
// valid up to a certificate in the Store, delegating the actual path-build
// and signature checks to crypto/x509.Certificate.Verify — this standard
// library routine is this toolkit's equivalent of the OpenSSL verify(1)
// engine the ecosystem's reference implementation shells out to; no
// subprocess or fixed CA-bundle path is needed. On success it returns nil.
// On failure it returns a *ferr.Error of kind TrustChain with Reason set to
// one of Malformed, NotTrusted, or CertExpired.
func (s *Store) Verify(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return ferr.Wrap(ferr.TrustChain, string(Malformed), fmt.Errorf("trust: empty certificate chain"))
	}
	leaf := chain[0]

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         s.pool,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	_, err := leaf.Verify(opts)
	if err == nil {
		return nil
	}

	switch err.(type) {
	case x509.CertificateInvalidError:
		cie := err.(x509.CertificateInvalidError)
		if cie.Reason == x509.Expired {
			return ferr.Wrap(ferr.TrustChain, string(CertExpired), err)
		}
		return ferr.Wrap(ferr.TrustChain, string(Malformed), err)
	case x509.UnknownAuthorityError:
		return ferr.Wrap(ferr.TrustChain, string(NotTrusted), err)
	default:
		return ferr.Wrap(ferr.TrustChain, string(Malformed), err)
	}
}

// Anchors returns every certificate loaded into the store, in directory
// traversal order.
func (s *Store) Anchors() []*x509.Certificate {
	return s.certs
}
