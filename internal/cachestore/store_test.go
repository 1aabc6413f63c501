package cachestore_test

import (
	"testing"
	"time"

	"github.com/bgpsrx/rtrsec/internal/cachestore"
)

func TestSnapshotResetVsIncrementalFromZeroAgree(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(0x1234)
	serial1 := s.AppendVPOR(cachestore.VPOR{AFI: 4, Prefix: addr4(10, 0, 0, 0), PrefixLen: 24, MaxLen: 24, OriginASN: 65000})
	s.AppendVPOR(cachestore.VPOR{AFI: 4, Prefix: addr4(192, 0, 2, 0), PrefixLen: 24, MaxLen: 24, OriginASN: 65001})
	if ok := s.Withdraw(serial1, time.Unix(1000, 0)); !ok {
		t.Fatalf("Withdraw(%d) = false, want true", serial1)
	}

	reset, ok := s.Snapshot(0, true)
	if !ok {
		t.Fatal("Snapshot(reset) ok = false")
	}
	incremental, ok := s.Snapshot(0, false)
	if !ok {
		t.Fatal("Snapshot(incremental from 0) ok = false")
	}

	resetSet := applyToView(reset)
	incrementalSet := applyToView(incremental)
	if len(resetSet) != len(incrementalSet) {
		t.Fatalf("reset view has %d entries, incremental-from-0 replay has %d", len(resetSet), len(incrementalSet))
	}
	for k, v := range resetSet {
		if incrementalSet[k] != v {
			t.Fatalf("key %v: reset view says announced=%v, incremental replay says %v", k, v, incrementalSet[k])
		}
	}
	if resetSet[addr4(192, 0, 2, 0)] != true {
		t.Fatal("still-announced prefix missing from reset view")
	}
	if _, present := resetSet[addr4(10, 0, 0, 0)]; present {
		t.Fatal("withdrawn prefix should not appear in the reset view at all")
	}
}

// viewKey identifies a VPOR by its address bytes for this test's purposes.
type viewKey = [16]byte

// applyToView replays an ordered entry sequence (as a real RTR client
// would) into a map of "is this prefix currently announced".
func applyToView(entries []cachestore.Entry) map[viewKey]bool {
	view := make(map[viewKey]bool)
	for _, e := range entries {
		if e.Kind != cachestore.KindVPOR {
			continue
		}
		if e.Announcement {
			view[e.VPOR.Prefix] = true
		} else {
			delete(view, e.VPOR.Prefix)
		}
	}
	return view
}

func addr4(a, b, c, d byte) [16]byte {
	var out [16]byte
	out[0], out[1], out[2], out[3] = a, b, c, d
	return out
}

// TestWithdrawThenPurgeForcesCacheReset is scenario S6.
func TestWithdrawThenPurgeForcesCacheReset(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(1)
	base := time.Unix(1_000_000, 0)

	serial1 := s.AppendVPOR(cachestore.VPOR{AFI: 4, Prefix: addr4(203, 0, 113, 0), PrefixLen: 24, MaxLen: 24, OriginASN: 65000})
	if serial1 != 1 {
		t.Fatalf("first append serial = %d, want 1", serial1)
	}
	if ok := s.Withdraw(serial1, base); !ok {
		t.Fatal("Withdraw at serial 1 failed")
	}
	if got := s.MaxSerial(); got != 2 {
		t.Fatalf("MaxSerial() = %d, want 2 after withdraw", got)
	}

	// Before the retention window elapses, purge removes nothing.
	if n := s.PurgeExpired(base.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("PurgeExpired before expiry removed %d entries, want 0", n)
	}

	removed := s.PurgeExpired(base.Add(cachestore.CacheExpirationInterval + time.Second))
	if removed != 1 {
		t.Fatalf("PurgeExpired after expiry removed %d entries, want 1", removed)
	}

	_, ok := s.Snapshot(0, false)
	if ok {
		t.Fatal("Snapshot(0, incremental) ok = true, want false: serial 0 is inside the expired watermark window")
	}

	// A Reset Query always succeeds regardless of watermarks.
	reset, ok := s.Snapshot(0, true)
	if !ok {
		t.Fatal("Snapshot(reset) ok = false")
	}
	if len(reset) != 0 {
		t.Fatalf("Snapshot(reset) after purge = %d entries, want 0 (the only record was withdrawn and purged)", len(reset))
	}
}

func TestAppendRouterKeyAndASPASerialsAreMonotonic(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(1)
	s1 := s.AppendRouterKey(cachestore.RouterKeyRecord{ASN: 65000, SKI: [20]byte{1}, SPKI: []byte{0xAB}})
	s2 := s.AppendASPA(cachestore.ASPARecord{CustomerASN: 65000, AFI: 4, ProviderASNs: []uint32{65001, 65002}})
	if s2 <= s1 {
		t.Fatalf("serials not monotonic: router-key=%d, aspa=%d", s1, s2)
	}

	entries, ok := s.Snapshot(0, true)
	if !ok || len(entries) != 2 {
		t.Fatalf("Snapshot(reset) = %v, ok=%v, want 2 entries", entries, ok)
	}
}

func TestClearDiscardsAllEntriesWithoutWatermark(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(1)
	s.AppendVPOR(cachestore.VPOR{AFI: 4, OriginASN: 65000, PrefixLen: 24, MaxLen: 24})
	s.AppendVPOR(cachestore.VPOR{AFI: 4, OriginASN: 65001, PrefixLen: 24, MaxLen: 24})

	s.Clear()

	if got := len(s.AnnouncedEntries()); got != 0 {
		t.Fatalf("AnnouncedEntries() after Clear = %d, want 0", got)
	}
	entries, ok := s.Snapshot(0, true)
	if !ok || len(entries) != 0 {
		t.Fatalf("Snapshot(reset) after Clear = %v, ok=%v, want 0 entries", entries, ok)
	}
}

func TestAnnouncedEntriesExcludesWithdrawn(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(1)
	serial1 := s.AppendVPOR(cachestore.VPOR{AFI: 4, OriginASN: 65000, PrefixLen: 24, MaxLen: 24})
	s.AppendVPOR(cachestore.VPOR{AFI: 4, OriginASN: 65001, PrefixLen: 24, MaxLen: 24})
	s.Withdraw(serial1, time.Unix(1000, 0))

	entries := s.AnnouncedEntries()
	if len(entries) != 1 || entries[0].VPOR.OriginASN != 65001 {
		t.Fatalf("AnnouncedEntries() = %+v, want only the ASN 65001 entry", entries)
	}
}

func TestSessionIDResetDoesNotTouchRecords(t *testing.T) {
	t.Parallel()

	s := cachestore.NewStore(0x1111)
	s.AppendVPOR(cachestore.VPOR{AFI: 4, OriginASN: 65000, PrefixLen: 24, MaxLen: 24})
	s.ResetSession(0x2222)
	if s.SessionID() != 0x2222 {
		t.Fatalf("SessionID() = %#x, want 0x2222", s.SessionID())
	}
	entries, ok := s.Snapshot(0, true)
	if !ok || len(entries) != 1 {
		t.Fatalf("Snapshot(reset) after ResetSession = %v, ok=%v, want 1 entry retained", entries, ok)
	}
}
