package bridge

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"Cassegrain/internal/ledger"
)

const (
	// SignatureSize is the size of a compressed BLS signature in bytes.
	SignatureSize = 96

	// keygenDomain binds derived BLS keys to the node identity.
	keygenDomain = "cassegrain-venue-bls"
)

var (
	// sigDST is the domain separation tag for commit signatures.
	sigDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

	// popDST is the domain separation tag for proofs of possession.
	popDST = []byte("BLS_POP_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")
)

// Signer holds a venue's BLS key pair.
type Signer struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
	key    ledger.VenueKey // key is the compressed public key
}

// DeriveSigner derives a deterministic BLS key pair from an ed25519 node key.
func DeriveSigner(priv ed25519.PrivateKey) (*Signer, error) {
	h := blake3.New()
	h.Write([]byte(keygenDomain))
	h.Write(priv.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return SignerFromSeed(derived[:])
}

// GenerateSigner creates a BLS key pair from a random seed.
func GenerateSigner() (*Signer, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return SignerFromSeed(ikm[:])
}

// SignerFromSeed creates a BLS key pair from at least 32 bytes of seed.
func SignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	s := &Signer{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}
	copy(s.key[:], s.public.Compress())

	return s, nil
}

// VenueKey returns the compressed public key.
func (s *Signer) VenueKey() ledger.VenueKey {
	return s.key
}

// Sign signs msg under the commit domain.
func (s *Signer) Sign(msg []byte) []byte {
	return new(blst.P2Affine).Sign(s.secret, msg, sigDST).Compress()
}

// SignCommit validates c and fills c.Signature over c.Digest().
func (s *Signer) SignCommit(c *ledger.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	digest, err := c.Digest()
	if err != nil {
		return fmt.Errorf("digest commit:\n%w", err)
	}
	c.Signature = s.Sign(digest)

	return nil
}

// ProvePossession signs the public key itself under the proof domain.
func (s *Signer) ProvePossession() []byte {
	return new(blst.P2Affine).Sign(s.secret, s.key[:], popDST).Compress()
}

// Verify checks a commit-domain signature. It has the shape of ledger.VerifyFunc.
func Verify(venue ledger.VenueKey, msg, signature []byte) bool {
	return verify(venue, msg, signature, sigDST)
}

// VerifyPossession checks a proof produced by ProvePossession.
func VerifyPossession(venue ledger.VenueKey, proof []byte) bool {
	return verify(venue, venue[:], proof, popDST)
}

// verify decompresses and checks a signature under dst.
func verify(venue ledger.VenueKey, msg, signature, dst []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(venue[:])
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, msg, dst)
}
