package cachestore

import (
	"sync"
	"time"
)

// CacheExpirationInterval is how long a withdrawn record is retained before
// PurgeExpired removes it (spec.md Section 4.7, CACHE_EXPIRATION_INTERVAL).
const CacheExpirationInterval = time.Hour

// Store is the server-side ordered record log behind one RTR cache
// session ID: an append-only list of VPOR/router-key/ASPA entries keyed by
// a monotonic serial, guarded by a reader/writer lock in the shape of
// internal/bfd/manager.go's Manager.mu, grounded on srx-server's
// rpki_router_client.c for serial/expiry/watermark bookkeeping.
type Store struct {
	mu sync.RWMutex

	sessionID uint16
	maxSerial uint32

	// minPrevExpired/maxExpired record the serial range of purged entries.
	// Snapshot answers a client whose last-served serial is not newer than
	// maxExpired with ok == false (a Cache Reset); minPrevExpired is kept
	// for bookkeeping and does not bound that check. haveWatermark is false
	// until the first PurgeExpired call actually removes something.
	haveWatermark  bool
	minPrevExpired uint32
	maxExpired     uint32

	entries []*entry
}

// NewStore constructs an empty Store under the given RTR session ID.
func NewStore(sessionID uint16) *Store {
	return &Store{sessionID: sessionID}
}

// SessionID returns the cache's current session ID.
func (s *Store) SessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ResetSession assigns a new session ID, as the operator CLI's
// "sessionID" command does.
// Callers are responsible for forcing connected clients through a fresh
// Reset Query; Store itself only tracks the identifier.
func (s *Store) ResetSession(newSessionID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = newSessionID
}

// MaxSerial returns the highest serial assigned so far.
func (s *Store) MaxSerial() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSerial
}

func (s *Store) nextSerial() uint32 {
	s.maxSerial++
	return s.maxSerial
}

// AppendVPOR adds a new announced VPOR and returns its assigned serial.
func (s *Store) AppendVPOR(v VPOR) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial := s.nextSerial()
	s.entries = append(s.entries, &entry{Entry: Entry{
		Kind: KindVPOR, Serial: serial, PrevSerial: serial,
		Announcement: true, VPOR: v,
	}})
	return serial
}

// AppendRouterKey adds a new announced router key record and returns its
// assigned serial.
func (s *Store) AppendRouterKey(rk RouterKeyRecord) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial := s.nextSerial()
	s.entries = append(s.entries, &entry{Entry: Entry{
		Kind: KindRouterKey, Serial: serial, PrevSerial: serial,
		Announcement: true, RouterKey: rk,
	}})
	return serial
}

// AppendASPA adds a new announced ASPA record and returns its assigned
// serial.
func (s *Store) AppendASPA(a ASPARecord) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial := s.nextSerial()
	s.entries = append(s.entries, &entry{Entry: Entry{
		Kind: KindASPA, Serial: serial, PrevSerial: serial,
		Announcement: true, ASPA: a,
	}})
	return serial
}

// Clear discards every entry without assigning withdrawal serials or
// touching the watermark, mirroring srx-server's emptyCache: an operator
// reset of the test harness, not a protocol-visible withdrawal sequence.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// AnnouncedEntries returns the currently-announced entries in serial order,
// for operator inspection (the CLI's "cache" and "remove <i>" commands
// index into this slice).
func (s *Store) AnnouncedEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Announcement {
			out = append(out, e.toEntry())
		}
	}
	return out
}

// Withdraw marks the currently-announced entry last assigned serial as
// withdrawn: its serial is bumped to a new value (prevSerial keeps the
// original announcement's serial), its announcement flag flips, it is
// given an expiry CacheExpirationInterval past now, and it is moved to the
// tail of the ordered log so incremental snapshots still observe it in
// serial order. It reports false if no announced entry carries that
// serial.
func (s *Store) Withdraw(announcedSerial uint32, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, e := range s.entries {
		if e.Serial == announcedSerial && e.Announcement {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	e := s.entries[idx]
	e.Serial = s.nextSerial()
	e.Announcement = false
	e.expiresAt = now.Add(CacheExpirationInterval).Unix()

	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.entries = append(s.entries, e)
	return true
}

// PurgeExpired removes withdrawn entries whose expiry has passed and
// widens the unreachable-serial watermark to cover them. It returns the
// count of entries removed.
func (s *Store) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowUnix := now.Unix()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.expiresAt > 0 && e.expiresAt <= nowUnix {
			if !s.haveWatermark {
				s.minPrevExpired = e.PrevSerial
				s.maxExpired = e.Serial
				s.haveWatermark = true
			} else {
				if e.PrevSerial < s.minPrevExpired {
					s.minPrevExpired = e.PrevSerial
				}
				if e.Serial > s.maxExpired {
					s.maxExpired = e.Serial
				}
			}
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed
}

// Snapshot returns the ordered sequence of entries a client at sinceSerial
// must receive. When isReset is true, sinceSerial is ignored and the
// result is every currently-announced entry (a full state dump, as served
// after a Reset Query). Otherwise it is every entry with Serial >
// sinceSerial, announcements and withdrawals alike (an incremental
// catch-up, as served after a Serial Query). ok is false when entries have
// been purged and sinceSerial is not newer than the highest purged serial;
// the caller must then send a Cache Reset instead.
func (s *Store) Snapshot(sinceSerial uint32, isReset bool) (result []Entry, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if isReset {
		out := make([]Entry, 0, len(s.entries))
		for _, e := range s.entries {
			if e.Announcement {
				out = append(out, e.toEntry())
			}
		}
		return out, true
	}

	if s.haveWatermark && !serialGreater(sinceSerial, s.maxExpired) {
		return nil, false
	}

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if serialGreater(e.Serial, sinceSerial) {
			out = append(out, e.toEntry())
		}
	}
	return out, true
}

// validSerial reports whether serial s lies within the inclusive window
// [cmin, cmax] under 32-bit wraparound arithmetic (spec.md Section 3,
// "Serial comparison respects wrap").
func validSerial(cmin, cmax, s uint32) bool {
	if cmin <= cmax {
		return cmin <= s && s <= cmax
	}
	return !(cmax < s && s < cmin)
}

// serialGreater reports whether a is strictly newer than b under RFC
// 6810's wraparound serial-number arithmetic (RFC 1982): a is greater
// than b iff the signed difference a-b, computed mod 2^32, is positive
// and less than half the serial space.
func serialGreater(a, b uint32) bool {
	return int32(a-b) > 0
}
