// Package cachestore holds the server-side ordered record list behind an
// RTR cache: VPOR, router-key, and ASPA records, each carrying a
// monotonically increasing serial and an optional expiry, grounded on
// srx-server's rpki_router_client.c bookkeeping. Store is the
// reader/writer-locked append-only log; Snapshot computes what a client at
// a given serial must still receive.
package cachestore
