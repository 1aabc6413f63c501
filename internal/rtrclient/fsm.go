package rtrclient

// This file implements the RTR client protocol state machine (RFC 6810
// Section 7, RFC 8210 Section 7) as a pure function over a transition table,
// in the shape of internal/bfd/fsm.go: no side effects, no Session
// dependency, trivially testable against the state diagram.
//
// State diagram:
//
//	IDLE --connect--> HANDSHAKE
//	HANDSHAKE --send Reset Query--> WAIT_RESPONSE
//	WAIT_RESPONSE --Cache Response--> RECEIVING
//	WAIT_RESPONSE --Error(Unsupported Version) && canDowngrade--> HANDSHAKE (lower version)
//	WAIT_RESPONSE --Error(NoDataAvailable)--> IDLE (keepalive retry)
//	WAIT_RESPONSE --Error(other)--> TERMINATED
//	RECEIVING --Prefix/RouterKey/ASPA PDU--> RECEIVING (emit event)
//	RECEIVING --Cache Reset--> HANDSHAKE (and drop local cache)
//	RECEIVING --End of Data--> SYNCED (record serial)
//	SYNCED --Serial Notify--> WAIT_RESPONSE (send Serial Query)
//	SYNCED --disconnect--> IDLE
//
// A Session-ID change observed outside of a Reset Query response (the "ANY"
// arc in spec) is a cross-cutting condition, not a (state,event) transition:
// it is checked by Session before the table is consulted, the same way
// internal/bfd/session.go's checkAuthConsistency runs ahead of the BFD FSM.

// State is an RTR client session state.
type State uint8

const (
	StateIdle State = iota
	StateHandshake
	StateWaitResponse
	StateReceiving
	StateSynced
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshake:
		return "Handshake"
	case StateWaitResponse:
		return "WaitResponse"
	case StateReceiving:
		return "Receiving"
	case StateSynced:
		return "Synced"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Event is an RTR client FSM event.
type Event uint8

const (
	// EventConnect is the local action of opening the TCP connection.
	EventConnect Event = iota

	// EventSendQuery is the local action of transmitting the Reset Query
	// that follows entering Handshake, on first connect or after a Cache
	// Reset. The Serial Query sent from Synced is driven by
	// EventRecvSerialNotify instead.
	EventSendQuery

	// EventRecvCacheResponse is receipt of a Cache Response PDU.
	EventRecvCacheResponse

	// EventRecvErrorDowngrade is receipt of an Error Report carrying
	// UnsupportedProtocolVersion while a lower version may still be tried.
	EventRecvErrorDowngrade

	// EventRecvErrorVersionFatal is receipt of an Error Report carrying
	// UnsupportedProtocolVersion with no lower version left to try.
	EventRecvErrorVersionFatal

	// EventRecvErrorNoData is receipt of an Error Report carrying
	// NoDataAvailable: the cache has nothing yet, retry later.
	EventRecvErrorNoData

	// EventRecvErrorOther is receipt of any other Error Report.
	EventRecvErrorOther

	// EventRecvData is receipt of an IPv4/IPv6 Prefix, Router Key, or
	// ASPA PDU while synchronizing.
	EventRecvData

	// EventRecvCacheReset is receipt of a Cache Reset PDU.
	EventRecvCacheReset

	// EventRecvEndOfData is receipt of an End of Data PDU.
	EventRecvEndOfData

	// EventRecvSerialNotify is receipt of a Serial Notify PDU while Synced.
	EventRecvSerialNotify

	// EventDisconnect is the local or remote closing of the connection.
	EventDisconnect
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventConnect:
		return "Connect"
	case EventSendQuery:
		return "SendQuery"
	case EventRecvCacheResponse:
		return "RecvCacheResponse"
	case EventRecvErrorDowngrade:
		return "RecvErrorDowngrade"
	case EventRecvErrorVersionFatal:
		return "RecvErrorVersionFatal"
	case EventRecvErrorNoData:
		return "RecvErrorNoData"
	case EventRecvErrorOther:
		return "RecvErrorOther"
	case EventRecvData:
		return "RecvData"
	case EventRecvCacheReset:
		return "RecvCacheReset"
	case EventRecvEndOfData:
		return "RecvEndOfData"
	case EventRecvSerialNotify:
		return "RecvSerialNotify"
	case EventDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Action is a side-effect the caller must execute after a transition.
type Action uint8

const (
	// ActionSendResetQuery triggers transmission of a Reset Query PDU.
	ActionSendResetQuery Action = iota + 1

	// ActionSendSerialQuery triggers transmission of a Serial Query PDU
	// carrying the session's last recorded serial.
	ActionSendSerialQuery

	// ActionDropCache signals that locally cached state must be discarded
	// (a Cache Reset was received, or the connection was lost before sync).
	ActionDropCache

	// ActionNotifySynced signals that the client reached a fully
	// synchronized view of the cache (End of Data processed).
	ActionNotifySynced

	// ActionNotifyDisconnected signals that the session left Synced or
	// Receiving without completing a clean handshake.
	ActionNotifyDisconnected

	// ActionNotifyTerminated signals a fatal, non-retryable session error.
	ActionNotifyTerminated
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionSendResetQuery:
		return "SendResetQuery"
	case ActionSendSerialQuery:
		return "SendSerialQuery"
	case ActionDropCache:
		return "DropCache"
	case ActionNotifySynced:
		return "NotifySynced"
	case ActionNotifyDisconnected:
		return "NotifyDisconnected"
	case ActionNotifyTerminated:
		return "NotifyTerminated"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects of a transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	{StateIdle, EventConnect}: {
		newState: StateHandshake,
	},

	{StateHandshake, EventSendQuery}: {
		newState: StateWaitResponse,
		actions:  []Action{ActionSendResetQuery},
	},

	{StateWaitResponse, EventRecvCacheResponse}: {
		newState: StateReceiving,
	},
	{StateWaitResponse, EventRecvErrorDowngrade}: {
		newState: StateHandshake,
	},
	{StateWaitResponse, EventRecvErrorVersionFatal}: {
		newState: StateTerminated,
		actions:  []Action{ActionNotifyTerminated},
	},
	{StateWaitResponse, EventRecvErrorNoData}: {
		newState: StateIdle,
	},
	{StateWaitResponse, EventRecvErrorOther}: {
		newState: StateTerminated,
		actions:  []Action{ActionNotifyTerminated},
	},
	{StateWaitResponse, EventDisconnect}: {
		newState: StateIdle,
		actions:  []Action{ActionDropCache, ActionNotifyDisconnected},
	},

	{StateReceiving, EventRecvData}: {
		newState: StateReceiving,
	},
	{StateReceiving, EventRecvCacheReset}: {
		newState: StateHandshake,
		actions:  []Action{ActionDropCache},
	},
	{StateReceiving, EventRecvEndOfData}: {
		newState: StateSynced,
		actions:  []Action{ActionNotifySynced},
	},
	{StateReceiving, EventDisconnect}: {
		newState: StateIdle,
		actions:  []Action{ActionDropCache, ActionNotifyDisconnected},
	},

	{StateSynced, EventRecvSerialNotify}: {
		newState: StateWaitResponse,
		actions:  []Action{ActionSendSerialQuery},
	},
	{StateSynced, EventDisconnect}: {
		newState: StateIdle,
		actions:  []Action{ActionNotifyDisconnected},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the result.
// A (state, event) pair with no table entry is silently ignored: the event
// is dropped, FSMResult.Changed is false, and Actions is empty.
func ApplyEvent(current State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: current, event: event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current, Changed: false}
	}
	return FSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
