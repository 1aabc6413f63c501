// Package rtrserver implements the server side of the RTR protocol: an
// accept loop handing each connection its own goroutine, a periodic
// service timer that drains a dirty flag into a broadcast Serial Notify,
// and immediate notify/reset/error operations that bypass the timer,
// grounded on srx-server's rpkirtr_svr.c command set and fed by an
// internal/cachestore.Store. The per-connection goroutine pattern follows
// cmd/gobfd-haproxy-agent's accept loop; the client bookkeeping follows
// internal/bfd/manager.go's RWMutex-guarded map.
package rtrserver
