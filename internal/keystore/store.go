package keystore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
)

// SKILength is the length in octets of a Subject Key Identifier
// (RFC 8208 Section 3.1.1).
const SKILength = 20

// bucketCount is the number of ASN buckets a Store hashes into. ASN values
// are folded into a bucket by (asn % bucketCount), matching the open-chain
// hashing the reference key storage uses to keep per-bucket chains short.
const bucketCount = 256

// Algorithm identifies a BGPsec signature algorithm suite
// (RFC 8208 Section 3.3).
type Algorithm uint8

// Supported algorithm suite identifiers.
const (
	AlgoECDSAP256SHA256 Algorithm = 1
)

// Source records where a key was registered from, so a reload can remove
// exactly the keys it previously installed without disturbing keys from
// another origin.
type Source uint8

// Key sources.
const (
	// SourceInternal marks keys generated or loaded by this process itself
	// (e.g. the router's own signing key).
	SourceInternal Source = iota
	// SourceConfig marks keys loaded from static configuration files.
	SourceConfig
	// SourceRouterKeyPDU marks keys learned from an RTR Router Key PDU.
	SourceRouterKeyPDU
)

// Sentinel errors for key store operations.
var (
	// ErrNotFound indicates no key matched the requested ASN/SKI.
	ErrNotFound = errors.New("keystore: key not found")

	// ErrNoIdentity indicates neither ASN nor SKI was supplied to narrow a
	// lookup or removal.
	ErrNoIdentity = errors.New("keystore: no ski/asn provided")

	// ErrInvalidKey indicates the stored DER bytes do not decode to a
	// P-256 ECDSA public key.
	ErrInvalidKey = errors.New("keystore: key data is not a valid p-256 ecdsa key")

	// ErrDuplicateKey indicates a byte-identical key is already registered
	// under the same ASN/SKI. Registration still succeeds; ErrDuplicateKey
	// is returned alongside the existing *Key so callers can log it.
	ErrDuplicateKey = errors.New("keystore: duplicate key")

	// ErrNoPrivateKey indicates a signing operation was attempted against a
	// Key that carries no private scalar (e.g. one registered into the
	// public store, or a private-store entry missing Priv).
	ErrNoPrivateKey = errors.New("keystore: key has no private scalar")
)

// Key is a single stored router key: its SPKI in DER form plus the
// identity (ASN, SKI) it was registered under. Private-store entries also
// carry the private scalar in Priv; public-store entries leave it nil.
type Key struct {
	Algorithm Algorithm
	ASN       uint32
	SKI       [SKILength]byte
	DER       []byte
	Source    Source
	Priv      *ecdsa.PrivateKey

	once   sync.Once
	pubKey *ecdsa.PublicKey
	pubErr error
}

// PrivateKey returns the key's private scalar, or ErrNoPrivateKey if none
// was supplied at registration.
func (k *Key) PrivateKey() (*ecdsa.PrivateKey, error) {
	if k.Priv == nil {
		return nil, fmt.Errorf("keystore: asn=%d ski=%x: %w", k.ASN, k.SKI, ErrNoPrivateKey)
	}
	return k.Priv, nil
}

// PublicKey lazily parses and caches the ECDSA public key from the stored
// DER bytes. Parsing happens at most once per Key even under concurrent
// callers (grounded on the reference implementation's "load DER, derive
// EC_KEY on first use" behavior).
func (k *Key) PublicKey() (*ecdsa.PublicKey, error) {
	k.once.Do(func() {
		pub, err := x509.ParsePKIXPublicKey(k.DER)
		if err != nil {
			k.pubErr = fmt.Errorf("keystore: parse spki: %w", err)
			return
		}
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok || ecdsaPub.Curve != elliptic.P256() {
			k.pubErr = ErrInvalidKey
			return
		}
		k.pubKey = ecdsaPub
	})
	return k.pubKey, k.pubErr
}

// identical reports whether two keys carry the same DER bytes, the
// condition the reference storage treats as a duplicate registration.
func (k *Key) identical(other *Key) bool {
	if len(k.DER) != len(other.DER) {
		return false
	}
	for i := range k.DER {
		if k.DER[i] != other.DER[i] {
			return false
		}
	}
	return true
}

// bucket holds the keys chained under one (asn % bucketCount) slot. A
// single ASN/SKI pair can carry more than one Key during rollover, so
// lookups return a slice rather than a single value.
type bucket struct {
	keys []*Key
}

// Store is a single ASN-bucketed, SKI-indexed collection of router keys,
// either all public (for validation) or all private (for signing). Callers
// needing both typically hold one Store of each kind; see Manager.
type Store struct {
	mu        sync.RWMutex
	isPrivate bool
	buckets   [bucketCount]bucket
	size      int
}

// NewStore creates an empty key store. isPrivate documents the store's
// role (signing keys vs. validation keys) for logging; it does not change
// lookup behavior.
func NewStore(isPrivate bool) *Store {
	return &Store{isPrivate: isPrivate}
}

// Size returns the number of keys currently registered.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Register adds a key to the store. If a byte-identical key is already
// registered under the same ASN and SKI, Register returns the existing
// *Key and ErrDuplicateKey; the store is left unchanged. Otherwise the key
// is appended to the ASN/SKI's collision chain and Register returns it
// with a nil error.
func (s *Store) Register(k *Key) (*Key, error) {
	if k == nil {
		return nil, fmt.Errorf("keystore: %w", ErrNoIdentity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.buckets[k.ASN%bucketCount]
	for _, existing := range b.keys {
		if existing.ASN == k.ASN && existing.SKI == k.SKI && existing.identical(k) {
			return existing, ErrDuplicateKey
		}
	}
	b.keys = append(b.keys, k)
	s.size++
	return k, nil
}

// Lookup returns every key registered for the given ASN and SKI. More than
// one result indicates an SKI/ASN collision (key rollover in progress).
func (s *Store) Lookup(asn uint32, ski [SKILength]byte) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := &s.buckets[asn%bucketCount]
	var matches []*Key
	for _, k := range b.keys {
		if k.ASN == asn && k.SKI == ski {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("keystore: asn=%d ski=%x: %w", asn, ski, ErrNotFound)
	}
	return matches, nil
}

// LookupBySKI returns every key registered under the given SKI regardless
// of ASN, scanning all buckets. Used when the ASN carried by a PDU is not
// yet trusted (e.g. validating a Router Key announcement before the
// corresponding ASPA/ROA binds it).
func (s *Store) LookupBySKI(ski [SKILength]byte) []*Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Key
	for i := range s.buckets {
		for _, k := range s.buckets[i].keys {
			if k.SKI == ski {
				matches = append(matches, k)
			}
		}
	}
	return matches
}

// Unregister removes the key matching ASN, SKI, and DER bytes exactly. It
// reports ErrNotFound if no such key is registered.
func (s *Store) Unregister(asn uint32, ski [SKILength]byte, der []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.buckets[asn%bucketCount]
	needle := &Key{ASN: asn, SKI: ski, DER: der}
	for i, existing := range b.keys {
		if existing.ASN == asn && existing.SKI == ski && existing.identical(needle) {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			s.size--
			return nil
		}
	}
	return fmt.Errorf("keystore: asn=%d ski=%x: %w", asn, ski, ErrNotFound)
}

// UnregisterBySource removes every key registered with the given Source
// and reports how many were removed. Used when a configuration reload
// needs to drop everything it previously installed without touching keys
// learned from other sources.
func (s *Store) UnregisterBySource(src Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for i := range s.buckets {
		kept := s.buckets[i].keys[:0]
		for _, k := range s.buckets[i].keys {
			if k.Source == src {
				removed++
				continue
			}
			kept = append(kept, k)
		}
		s.buckets[i].keys = kept
	}
	s.size -= removed
	return removed
}

// Clear removes every key from the store and reports how many were
// removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.size
	for i := range s.buckets {
		s.buckets[i].keys = nil
	}
	s.size = 0
	return removed
}
