// Package rtrclient implements the client side of the RTR protocol session
// state machine (RFC 6810 Section 7, RFC 8210 Section 7): handshake and
// version negotiation, Serial/Reset Query flow, End-of-Data bookkeeping, and
// Session ID change recovery, driven over a net.Conn carrying internal/rtrwire
// PDUs. The FSM is a pure transition table in the shape of internal/bfd/fsm.go;
// Session wraps it with a connection-owning goroutine in the shape of
// internal/bfd/session.go.
package rtrclient
