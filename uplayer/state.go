// Package uplayer implements the DICOM Upper Layer: the association state
// machine (PS3.8, Section 9.2), the ARTIM timer, and the per-connection
// association runtime that drives PDU I/O, timeouts and DIMSE exchange.
package uplayer

import (
	"sync"

	dicomerr "github.com/radwire/dicomnet/errors"
)

// State is one of the thirteen Upper Layer states. Released and Aborted are
// terminal: the association object must not be reused after reaching them.
type State int

const (
	StateIdle State = iota

	// Acceptor side
	StateTransportOpen               // transport open, awaiting A-ASSOCIATE-RQ
	StateAwaitingLocalAssociateReply // request received, awaiting local accept/reject

	// Requestor side
	StateAwaitingTransportConnection
	StateAwaitingAssociateResponse

	StateEstablished

	// Release handshake
	StateAwaitingReleaseResponse   // we sent A-RELEASE-RQ
	StateAwaitingLocalReleaseReply // peer sent A-RELEASE-RQ
	StateReleaseCollisionRequestor
	StateReleaseCollisionAcceptor
	StateAwaitingTransportClose

	StateReleased
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTransportOpen:
		return "TransportOpen"
	case StateAwaitingLocalAssociateReply:
		return "AwaitingLocalAssociateReply"
	case StateAwaitingTransportConnection:
		return "AwaitingTransportConnection"
	case StateAwaitingAssociateResponse:
		return "AwaitingAssociateResponse"
	case StateEstablished:
		return "Established"
	case StateAwaitingReleaseResponse:
		return "AwaitingReleaseResponse"
	case StateAwaitingLocalReleaseReply:
		return "AwaitingLocalReleaseReply"
	case StateReleaseCollisionRequestor:
		return "ReleaseCollisionRequestor"
	case StateReleaseCollisionAcceptor:
		return "ReleaseCollisionAcceptor"
	case StateAwaitingTransportClose:
		return "AwaitingTransportClose"
	case StateReleased:
		return "Released"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends the association.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateAborted
}

// Event is a state machine input: a local service primitive, a received
// PDU, a transport notification or a timer expiry.
type Event int

const (
	EventAssociateRequest Event = iota // local: begin association
	EventTransportConnected
	EventAssociateRQReceived
	EventAssociateACReceived
	EventAssociateRJReceived
	EventAssociateAccepted // local: A-ASSOCIATE-AC sent
	EventAssociateRejected // local: A-ASSOCIATE-RJ sent
	EventPDataSend
	EventPDataReceived
	EventReleaseRequest // local: A-RELEASE-RQ sent
	EventReleaseRQReceived
	EventReleaseRPReceived
	EventReleaseReply // local: A-RELEASE-RP sent
	EventAbortRequest // local: A-ABORT sent
	EventAbortReceived
	EventTransportClosed
	EventARTIMExpired
)

func (e Event) String() string {
	switch e {
	case EventAssociateRequest:
		return "associate-request"
	case EventTransportConnected:
		return "transport-connected"
	case EventAssociateRQReceived:
		return "A-ASSOCIATE-RQ"
	case EventAssociateACReceived:
		return "A-ASSOCIATE-AC"
	case EventAssociateRJReceived:
		return "A-ASSOCIATE-RJ"
	case EventAssociateAccepted:
		return "associate-accepted"
	case EventAssociateRejected:
		return "associate-rejected"
	case EventPDataSend:
		return "p-data-send"
	case EventPDataReceived:
		return "P-DATA-TF"
	case EventReleaseRequest:
		return "release-request"
	case EventReleaseRQReceived:
		return "A-RELEASE-RQ"
	case EventReleaseRPReceived:
		return "A-RELEASE-RP"
	case EventReleaseReply:
		return "release-reply"
	case EventAbortRequest:
		return "abort-request"
	case EventAbortReceived:
		return "A-ABORT"
	case EventTransportClosed:
		return "transport-closed"
	case EventARTIMExpired:
		return "artim-expired"
	}
	return "unknown"
}

// Role distinguishes the association requestor from the acceptor. It decides
// which side yields first in a release collision.
type Role int

const (
	RoleRequestor Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "requestor"
}

// Machine is the Upper Layer state machine. It is purely transitional: the
// caller performs the I/O and feeds the resulting events. Any event with no
// defined transition for the current state forces Aborted and returns a
// StateError; the machine never retries. Safe for concurrent use: send and
// receive paths may feed events from different goroutines.
type Machine struct {
	role Role

	mu    sync.Mutex
	state State
}

// NewMachine creates a machine in Idle for the given role.
func NewMachine(role Role) *Machine {
	return &Machine{role: role, state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Role returns the machine's role.
func (m *Machine) Role() Role { return m.role }

// Handle applies one event. On an undefined (state, event) pair the machine
// moves to Aborted (unless already terminal) and reports a StateError.
func (m *Machine) Handle(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.next(ev)
	if !ok {
		if !m.state.Terminal() {
			m.state = StateAborted
		}
		return &dicomerr.StateError{State: m.state.String(), Event: ev.String()}
	}
	m.state = next
	return nil
}

func (m *Machine) next(ev Event) (State, bool) {
	// Aborts are legal from every non-terminal state.
	if (ev == EventAbortRequest || ev == EventAbortReceived) && !m.state.Terminal() {
		// Received aborts are ignored while waiting for transport close.
		if m.state == StateAwaitingTransportClose && ev == EventAbortReceived {
			return StateAwaitingTransportClose, true
		}
		return StateAborted, true
	}

	switch m.state {
	case StateIdle:
		switch ev {
		case EventAssociateRequest:
			if m.role == RoleRequestor {
				return StateAwaitingTransportConnection, true
			}
		case EventTransportConnected:
			if m.role == RoleAcceptor {
				return StateTransportOpen, true
			}
		}

	case StateTransportOpen:
		switch ev {
		case EventAssociateRQReceived:
			return StateAwaitingLocalAssociateReply, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingLocalAssociateReply:
		switch ev {
		case EventAssociateAccepted:
			return StateEstablished, true
		case EventAssociateRejected:
			return StateAwaitingTransportClose, true
		case EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingTransportConnection:
		switch ev {
		case EventTransportConnected:
			return StateAwaitingAssociateResponse, true
		case EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingAssociateResponse:
		switch ev {
		case EventAssociateACReceived:
			return StateEstablished, true
		case EventAssociateRJReceived:
			return StateAwaitingTransportClose, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateEstablished:
		switch ev {
		case EventPDataSend, EventPDataReceived:
			return StateEstablished, true
		case EventReleaseRequest:
			return StateAwaitingReleaseResponse, true
		case EventReleaseRQReceived:
			return StateAwaitingLocalReleaseReply, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingReleaseResponse:
		switch ev {
		case EventPDataReceived:
			return StateAwaitingReleaseResponse, true
		case EventReleaseRPReceived:
			return StateReleased, true
		case EventReleaseRQReceived:
			if m.role == RoleRequestor {
				return StateReleaseCollisionRequestor, true
			}
			return StateReleaseCollisionAcceptor, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingLocalReleaseReply:
		switch ev {
		case EventPDataSend:
			return StateAwaitingLocalReleaseReply, true
		case EventReleaseReply:
			return StateAwaitingTransportClose, true
		case EventTransportClosed:
			return StateAborted, true
		}

	case StateReleaseCollisionRequestor:
		// The requestor answers the colliding A-RELEASE-RQ first, then
		// waits for its own A-RELEASE-RP.
		switch ev {
		case EventReleaseReply:
			return StateReleaseCollisionRequestor, true
		case EventReleaseRPReceived:
			return StateReleased, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateReleaseCollisionAcceptor:
		// The acceptor waits for the peer's A-RELEASE-RP before sending
		// its own and letting the peer close the transport.
		switch ev {
		case EventReleaseRPReceived:
			return StateReleaseCollisionAcceptor, true
		case EventReleaseReply:
			return StateAwaitingTransportClose, true
		case EventARTIMExpired, EventTransportClosed:
			return StateAborted, true
		}

	case StateAwaitingTransportClose:
		switch ev {
		case EventTransportClosed:
			return StateReleased, true
		case EventPDataReceived:
			return StateAwaitingTransportClose, true
		case EventARTIMExpired:
			return StateAborted, true
		}
	}

	return m.state, false
}
