package keystore

import (
	"fmt"
	"sync"
)

// Manager owns one public-key Store and one private-key Store per
// algorithm suite, mirroring the reference crypto API's convention of
// initializing distinct key storages for signing vs. validation
// (key_storage.c: ks_init is called once per algorithm/role pair).
type Manager struct {
	mu      sync.RWMutex
	public  map[Algorithm]*Store
	private map[Algorithm]*Store
}

// NewManager returns an empty Manager. Stores are created lazily on first
// use of an algorithm suite.
func NewManager() *Manager {
	return &Manager{
		public:  make(map[Algorithm]*Store),
		private: make(map[Algorithm]*Store),
	}
}

func (m *Manager) storeFor(algo Algorithm, private bool) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl := m.public
	if private {
		tbl = m.private
	}
	s, ok := tbl[algo]
	if !ok {
		s = NewStore(private)
		tbl[algo] = s
	}
	return s
}

// RegisterPublicKey registers a validation key for the given algorithm
// suite. See Store.Register for duplicate-handling semantics.
func (m *Manager) RegisterPublicKey(k *Key) (*Key, error) {
	return m.storeFor(k.Algorithm, false).Register(k)
}

// RegisterPrivateKey registers a signing key for the given algorithm
// suite.
func (m *Manager) RegisterPrivateKey(k *Key) (*Key, error) {
	return m.storeFor(k.Algorithm, true).Register(k)
}

// LookupPublicKeys returns every validation key registered for the given
// algorithm, ASN, and SKI.
func (m *Manager) LookupPublicKeys(algo Algorithm, asn uint32, ski [SKILength]byte) ([]*Key, error) {
	s, ok := m.getStore(algo, false)
	if !ok {
		return nil, fmt.Errorf("keystore: algorithm %d: %w", algo, ErrNotFound)
	}
	return s.Lookup(asn, ski)
}

// LookupPrivateKeys returns every signing key registered for the given
// algorithm, ASN, and SKI.
func (m *Manager) LookupPrivateKeys(algo Algorithm, asn uint32, ski [SKILength]byte) ([]*Key, error) {
	s, ok := m.getStore(algo, true)
	if !ok {
		return nil, fmt.Errorf("keystore: algorithm %d: %w", algo, ErrNotFound)
	}
	return s.Lookup(asn, ski)
}

func (m *Manager) getStore(algo Algorithm, private bool) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tbl := m.public
	if private {
		tbl = m.private
	}
	s, ok := tbl[algo]
	return s, ok
}

// UnregisterPublicKey removes a single validation key.
func (m *Manager) UnregisterPublicKey(algo Algorithm, asn uint32, ski [SKILength]byte, der []byte) error {
	s, ok := m.getStore(algo, false)
	if !ok {
		return fmt.Errorf("keystore: algorithm %d: %w", algo, ErrNotFound)
	}
	return s.Unregister(asn, ski, der)
}

// UnregisterPrivateKey removes a single signing key.
func (m *Manager) UnregisterPrivateKey(algo Algorithm, asn uint32, ski [SKILength]byte, der []byte) error {
	s, ok := m.getStore(algo, true)
	if !ok {
		return fmt.Errorf("keystore: algorithm %d: %w", algo, ErrNotFound)
	}
	return s.Unregister(asn, ski, der)
}

// UnregisterPublicKeysBySource removes every validation key across all
// algorithms that was registered with the given Source, returning the
// total number removed.
func (m *Manager) UnregisterPublicKeysBySource(src Source) int {
	m.mu.RLock()
	stores := make([]*Store, 0, len(m.public))
	for _, s := range m.public {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	total := 0
	for _, s := range stores {
		total += s.UnregisterBySource(src)
	}
	return total
}

// UnregisterAllPrivateKeys clears every private-key store across all
// algorithms, returning the total number removed. Used on shutdown and
// when rotating the router's own signing identity.
func (m *Manager) UnregisterAllPrivateKeys() int {
	m.mu.RLock()
	stores := make([]*Store, 0, len(m.private))
	for _, s := range m.private {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	total := 0
	for _, s := range stores {
		total += s.Clear()
	}
	return total
}
