package bgpseccrypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/bgpsrx/rtrsec/internal/keystore"
)

// Sentinel errors returned by the built-in provider.
var (
	// ErrAlreadyInitialized indicates Init was called twice without an
	// intervening Release (spec.md Section 4.3: "MUST NOT reinitialize
	// state").
	ErrAlreadyInitialized = errors.New("bgpseccrypto: provider already initialized")

	// ErrNotInitialized indicates a call was made before Init.
	ErrNotInitialized = errors.New("bgpseccrypto: provider not initialized")

	// ErrUnsupportedAlgorithm indicates the requested algorithm suite is
	// not implemented by this provider.
	ErrUnsupportedAlgorithm = errors.New("bgpseccrypto: unsupported algorithm suite")
)

// Provider is the pluggable BGPsec crypto capability object (grounded on
// srx-crypto-api's SRxCryptoAPI method table, srxcryptoapi.h). This
// module ships exactly one implementation, ECDSA P-256 with SHA-256
// (RFC 8208), registered directly rather than loaded through a dlopen
// method table (see DESIGN.md).
type Provider interface {
	// Init prepares the provider for use. configValue is an opaque
	// provider-specific configuration string (e.g. a key vault path).
	// Calling Init twice without Release returns ErrAlreadyInitialized.
	Init(configValue string, debugLevel int) (Status, error)

	// Release tears down provider state so Init may be called again.
	Release() (Status, error)

	// IsAlgorithmSupported reports whether this provider implements the
	// given algorithm suite.
	IsAlgorithmSupported(algo keystore.Algorithm) bool

	// Validate verifies an ECDSA signature over digest using pub. It
	// returns StatusOK on success or a Status with StatusErrSignatureMismatch
	// set on a cryptographic mismatch; other error flags indicate
	// operational failures (uninitialized, unsupported algorithm).
	Validate(algo keystore.Algorithm, pub *ecdsa.PublicKey, digest, sig []byte) (Status, error)

	// Sign produces an ECDSA signature over digest using priv.
	Sign(algo keystore.Algorithm, priv *ecdsa.PrivateKey, digest []byte) (signature []byte, status Status, err error)

	// Keys exposes the key lifecycle store backing register/unregister/
	// clean operations (spec.md Section 4.3's "register/unregister/clean
	// for both key categories").
	Keys() *keystore.Manager

	// RegisterPrivateKey stores a signing key. StatusInfoDuplicateKey is
	// set (with a nil error) if an identical key already exists.
	RegisterPrivateKey(k *keystore.Key) (Status, error)

	// UnregisterPrivateKey removes a signing key by exact identity.
	UnregisterPrivateKey(asn uint32, ski [keystore.SKILength]byte, der []byte) (Status, error)

	// RegisterPublicKey stores a validation key.
	RegisterPublicKey(k *keystore.Key) (Status, error)

	// UnregisterPublicKey removes a validation key by exact identity.
	UnregisterPublicKey(asn uint32, ski [keystore.SKILength]byte, der []byte) (Status, error)

	// CleanPublicKeys removes every validation key registered from src.
	CleanPublicKeys(src keystore.Source) (Status, error)

	// CleanPrivateKeys removes every signing key across all algorithms.
	CleanPrivateKeys() (Status, error)
}

// ecdsaP256Provider is the sole built-in Provider implementation.
type ecdsaP256Provider struct {
	mu          sync.Mutex
	initialized bool
	debugLevel  int
	keys        *keystore.Manager
}

// NewECDSAP256Provider constructs the built-in ECDSA P-256/SHA-256
// provider. The returned value is not yet initialized; call Init before
// use (mirrors srxCryptoInit's separate bind/init lifecycle).
func NewECDSAP256Provider() Provider {
	return &ecdsaP256Provider{keys: keystore.NewManager()}
}

func (p *ecdsaP256Provider) Init(_ string, debugLevel int) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return StatusErrInitAlreadyDone, fmt.Errorf("bgpseccrypto: init: %w", ErrAlreadyInitialized)
	}
	p.initialized = true
	p.debugLevel = debugLevel
	return StatusOK, nil
}

func (p *ecdsaP256Provider) Release() (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return StatusOK, nil
	}
	p.initialized = false
	p.keys.UnregisterAllPrivateKeys()
	return StatusOK, nil
}

func (p *ecdsaP256Provider) IsAlgorithmSupported(algo keystore.Algorithm) bool {
	return algo == keystore.AlgoECDSAP256SHA256
}

func (p *ecdsaP256Provider) Keys() *keystore.Manager { return p.keys }

func (p *ecdsaP256Provider) checkReady(algo keystore.Algorithm) (Status, error) {
	p.mu.Lock()
	ready := p.initialized
	p.mu.Unlock()

	if !ready {
		return StatusErrNoData, fmt.Errorf("bgpseccrypto: %w", ErrNotInitialized)
	}
	if !p.IsAlgorithmSupported(algo) {
		return StatusErrUnsupportedAlgo, fmt.Errorf("bgpseccrypto: algo %d: %w", algo, ErrUnsupportedAlgorithm)
	}
	return StatusOK, nil
}

func (p *ecdsaP256Provider) Validate(algo keystore.Algorithm, pub *ecdsa.PublicKey, digest, sig []byte) (Status, error) {
	if status, err := p.checkReady(algo); err != nil {
		return status, err
	}
	sum := sha256.Sum256(digest)
	if !ecdsa.VerifyASN1(pub, sum[:], sig) {
		return StatusErrSignatureMismatch, nil
	}
	return StatusOK, nil
}

func (p *ecdsaP256Provider) Sign(algo keystore.Algorithm, priv *ecdsa.PrivateKey, digest []byte) ([]byte, Status, error) {
	if status, err := p.checkReady(algo); err != nil {
		return nil, status, err
	}
	sum := sha256.Sum256(digest)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, sum[:])
	if err != nil {
		return nil, StatusErrInvalidKey, fmt.Errorf("bgpseccrypto: sign: %w", err)
	}
	return sig, StatusOK, nil
}

func (p *ecdsaP256Provider) RegisterPrivateKey(k *keystore.Key) (Status, error) {
	if !p.IsAlgorithmSupported(k.Algorithm) {
		return StatusErrUnsupportedAlgo, fmt.Errorf("bgpseccrypto: %w", ErrUnsupportedAlgorithm)
	}
	if _, err := k.PrivateKey(); err != nil {
		return StatusErrInvalidKey, fmt.Errorf("bgpseccrypto: register private key: %w", err)
	}
	_, err := p.keys.RegisterPrivateKey(k)
	if errors.Is(err, keystore.ErrDuplicateKey) {
		return StatusInfoDuplicateKey, nil
	}
	return StatusOK, err
}

func (p *ecdsaP256Provider) UnregisterPrivateKey(asn uint32, ski [keystore.SKILength]byte, der []byte) (Status, error) {
	if err := p.keys.UnregisterPrivateKey(keystore.AlgoECDSAP256SHA256, asn, ski, der); err != nil {
		return StatusInfoKeyNotFound, err
	}
	return StatusOK, nil
}

func (p *ecdsaP256Provider) RegisterPublicKey(k *keystore.Key) (Status, error) {
	if !p.IsAlgorithmSupported(k.Algorithm) {
		return StatusErrUnsupportedAlgo, fmt.Errorf("bgpseccrypto: %w", ErrUnsupportedAlgorithm)
	}
	if _, err := k.PublicKey(); err != nil {
		return StatusErrInvalidKey, fmt.Errorf("bgpseccrypto: register public key: %w", err)
	}
	_, err := p.keys.RegisterPublicKey(k)
	if errors.Is(err, keystore.ErrDuplicateKey) {
		return StatusInfoDuplicateKey, nil
	}
	return StatusOK, err
}

func (p *ecdsaP256Provider) UnregisterPublicKey(asn uint32, ski [keystore.SKILength]byte, der []byte) (Status, error) {
	if err := p.keys.UnregisterPublicKey(keystore.AlgoECDSAP256SHA256, asn, ski, der); err != nil {
		return StatusInfoKeyNotFound, err
	}
	return StatusOK, nil
}

func (p *ecdsaP256Provider) CleanPublicKeys(src keystore.Source) (Status, error) {
	p.keys.UnregisterPublicKeysBySource(src)
	return StatusOK, nil
}

func (p *ecdsaP256Provider) CleanPrivateKeys() (Status, error) {
	p.keys.UnregisterAllPrivateKeys()
	return StatusOK, nil
}
