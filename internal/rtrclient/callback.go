package rtrclient

import (
	"time"

	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

// StateChange is emitted when the session FSM transitions between states.
//
// External systems (e.g., the BGPsec validation pipeline) register
// callbacks to react to transitions such as reaching Synced, the point at
// which the client's local VPOR/router-key/ASPA view may be trusted.
type StateChange struct {
	OldState  State
	NewState  State
	Timestamp time.Time
}

// Callbacks carries the upstream consumer's hooks for session events. Every
// field is optional; a nil hook is simply not invoked. Callbacks are
// invoked synchronously by the session goroutine started via Session.Run,
// so long-running work should be handed off to another goroutine.
type Callbacks struct {
	// OnIPv4Prefix fires for each decoded IPv4 Prefix PDU. ann reports
	// whether the PDU's flags bit indicates an announcement (true) or a
	// withdrawal (false).
	OnIPv4Prefix func(ann bool, p rtrwire.IPv4Prefix)

	// OnIPv6Prefix fires for each decoded IPv6 Prefix PDU.
	OnIPv6Prefix func(ann bool, p rtrwire.IPv6Prefix)

	// OnRouterKey fires for each decoded Router Key PDU.
	OnRouterKey func(ann bool, rk rtrwire.RouterKey)

	// OnASPA fires for each decoded ASPA PDU (protocol version 2).
	OnASPA func(ann bool, a rtrwire.ASPA)

	// OnEndOfData fires once per End of Data PDU, after every data PDU in
	// that batch has already been delivered via the hooks above.
	OnEndOfData func(sessionID uint16, serial uint32)

	// OnSessionIDChanged fires when a Cache Response carries a session ID
	// that differs from one this client previously held. old is the prior
	// session ID; newID is the one just received.
	OnSessionIDChanged func(old, newID uint16)

	// OnSessionIDEstablished fires on the first End of Data received after
	// OnSessionIDChanged, confirming the new session is fully synchronized.
	OnSessionIDEstablished func(sessionID uint16)

	// OnError fires for every Error Report PDU received, including ones
	// that also drive the FSM to Idle or Terminated.
	OnError func(code rtrwire.ErrorCode, msg string)

	// OnStateChange fires on every FSM state transition (Changed == true
	// transitions only).
	OnStateChange func(change StateChange)
}

func (c Callbacks) stateChanged(old, newState State) {
	if c.OnStateChange == nil {
		return
	}
	c.OnStateChange(StateChange{OldState: old, NewState: newState, Timestamp: time.Now()})
}
