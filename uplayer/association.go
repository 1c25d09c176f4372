package uplayer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/dimse"
	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/pdu"
	"github.com/radwire/dicomnet/types"
)

// Options configures the association runtime. Zero values select the
// defaults noted per field.
type Options struct {
	// ACSETimeout bounds the wait for association-level responses:
	// accept/reject during establishment and the release response. It is
	// also the ARTIM duration. Default 30s.
	ACSETimeout time.Duration

	// DIMSETimeout bounds the wait for a DIMSE response once
	// established. Default 60s.
	DIMSETimeout time.Duration

	// IdleTimeout bounds inactivity while waiting for the next request
	// on an established association. Default 5m.
	IdleTimeout time.Duration

	// WriteTimeout bounds each PDU write. Default 30s.
	WriteTimeout time.Duration

	// MaxPDULength is the maximum P-DATA-TF body this side advertises.
	// Default pdu.DefaultMaxPDULength.
	MaxPDULength uint32

	Logger   *slog.Logger // default slog.Default()
	Notifier *Notifier    // optional lifecycle/event subscription
}

func (o Options) withDefaults() Options {
	if o.ACSETimeout == 0 {
		o.ACSETimeout = 30 * time.Second
	}
	if o.DIMSETimeout == 0 {
		o.DIMSETimeout = 60 * time.Second
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.MaxPDULength == 0 {
		o.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Association is one Upper Layer session over a transport connection. At
// most one goroutine may receive at a time; SendMessage and Abort may be
// called from other goroutines concurrently with the receiver, which is how
// a C-CANCEL reaches an operation that is mid-exchange.
type Association struct {
	id      string
	conn    net.Conn
	machine *Machine
	opts    Options
	logger  *slog.Logger

	calledAE   string
	callingAE  string
	contexts   map[byte]*acse.NegotiatedContext
	peerMaxPDU uint32
	peerInfo   pdu.UserInformation

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newAssociation(conn net.Conn, role Role, opts Options) *Association {
	a := &Association{
		id:       uuid.NewString(),
		conn:     conn,
		machine:  NewMachine(role),
		opts:     opts,
		contexts: make(map[byte]*acse.NegotiatedContext),
	}
	a.logger = opts.Logger.With(
		"association_id", a.id,
		"role", role.String(),
		"remote_addr", conn.RemoteAddr())
	return a
}

// Request performs the requestor handshake over an already connected
// transport: send A-ASSOCIATE-RQ, await AC or RJ within the ACSE timeout.
func Request(conn net.Conn, cfg acse.RequestConfig, opts Options) (*Association, error) {
	opts = opts.withDefaults()
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = opts.MaxPDULength
	}

	a := newAssociation(conn, RoleRequestor, opts)
	a.calledAE = cfg.CalledAETitle
	a.callingAE = cfg.CallingAETitle
	a.machine.Handle(EventAssociateRequest)
	a.machine.Handle(EventTransportConnected)

	rq, err := acse.BuildAssociateRQ(cfg)
	if err != nil {
		a.closeTransport()
		return nil, err
	}
	if err := a.writePDU(rq); err != nil {
		a.machine.Handle(EventTransportClosed)
		a.closeTransport()
		return nil, err
	}

	timer := &artim{conn: conn, timeout: opts.ACSETimeout}
	timer.start()
	p, err := pdu.ReadPDU(conn)
	timer.stop()
	if err != nil {
		return nil, a.failRead("association response", opts.ACSETimeout, err)
	}

	switch rsp := p.(type) {
	case *pdu.AAssociateAC:
		a.machine.Handle(EventAssociateACReceived)
		contexts, err := acse.ValidateAC(rq, rsp)
		if err != nil {
			a.abortLocal(dicomerr.AbortReasonInvalidPDUValue)
			return nil, err
		}
		for _, ctx := range contexts {
			a.contexts[ctx.ContextID] = ctx
		}
		a.peerMaxPDU = rsp.UserInformation.MaximumLength
		a.peerInfo = rsp.UserInformation
		a.logger.Info("association established",
			"called_ae", a.calledAE,
			"calling_ae", a.callingAE,
			"accepted_contexts", len(a.AcceptedContexts()))
		a.opts.Notifier.emit(Notification{Kind: EventKindAccepted, Association: a})
		return a, nil

	case *pdu.AAssociateRJ:
		a.machine.Handle(EventAssociateRJReceived)
		a.closeTransport()
		a.machine.Handle(EventTransportClosed)
		err := acse.RejectionError(rsp)
		a.logger.Info("association rejected by peer", "error", err)
		a.opts.Notifier.emit(Notification{Kind: EventKindRejected, Association: a, Err: err})
		return nil, err

	case *pdu.AAbort:
		a.machine.Handle(EventAbortReceived)
		a.closeTransport()
		err := dicomerr.NewAbortError(rsp.Source, rsp.Reason)
		a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: err})
		return nil, err

	default:
		stateErr := a.machine.Handle(eventForPDU(p))
		a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
		a.closeTransport()
		a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: stateErr})
		return nil, stateErr
	}
}

// Accept performs the acceptor handshake on a freshly accepted connection:
// await A-ASSOCIATE-RQ within the ARTIM, evaluate it, answer with AC or RJ.
func Accept(conn net.Conn, cfg acse.AcceptorConfig, opts Options) (*Association, error) {
	opts = opts.withDefaults()
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = opts.MaxPDULength
	}

	a := newAssociation(conn, RoleAcceptor, opts)
	a.machine.Handle(EventTransportConnected)

	timer := &artim{conn: conn, timeout: opts.ACSETimeout}
	timer.start()
	p, err := pdu.ReadPDU(conn)
	timer.stop()
	if err != nil {
		return nil, a.failRead("association request", opts.ACSETimeout, err)
	}

	rq, ok := p.(*pdu.AAssociateRQ)
	if !ok {
		stateErr := a.machine.Handle(eventForPDU(p))
		a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
		a.closeTransport()
		return nil, stateErr
	}
	a.machine.Handle(EventAssociateRQReceived)
	a.calledAE = rq.CalledAETitle
	a.callingAE = rq.CallingAETitle

	outcome := acse.Evaluate(cfg, rq)
	if !outcome.Accepted() {
		if err := a.writePDU(outcome.RJ); err != nil {
			a.machine.Handle(EventTransportClosed)
			a.closeTransport()
			return nil, err
		}
		a.machine.Handle(EventAssociateRejected)
		a.closeTransport()
		a.machine.Handle(EventTransportClosed)
		err := acse.RejectionError(outcome.RJ)
		a.logger.Info("association rejected",
			"called_ae", rq.CalledAETitle,
			"calling_ae", rq.CallingAETitle,
			"error", err)
		a.opts.Notifier.emit(Notification{Kind: EventKindRejected, Association: a, Err: err})
		return nil, err
	}

	if err := a.writePDU(outcome.AC); err != nil {
		a.machine.Handle(EventTransportClosed)
		a.closeTransport()
		return nil, err
	}
	a.machine.Handle(EventAssociateAccepted)
	for _, ctx := range outcome.Contexts {
		a.contexts[ctx.ContextID] = ctx
	}
	a.peerMaxPDU = rq.UserInformation.MaximumLength
	a.peerInfo = rq.UserInformation
	a.logger.Info("association established",
		"called_ae", a.calledAE,
		"calling_ae", a.callingAE,
		"accepted_contexts", len(a.AcceptedContexts()))
	a.opts.Notifier.emit(Notification{Kind: EventKindAccepted, Association: a})
	return a, nil
}

// ID returns the correlation id carried in the association's log records.
func (a *Association) ID() string { return a.id }

// State returns the current state machine state.
func (a *Association) State() State { return a.machine.State() }

// Role returns the association's role.
func (a *Association) Role() Role { return a.machine.Role() }

// CalledAETitle returns the called AE title of the association request.
func (a *Association) CalledAETitle() string { return a.calledAE }

// CallingAETitle returns the calling AE title of the association request.
func (a *Association) CallingAETitle() string { return a.callingAE }

// PeerMaxPDULength returns the maximum P-DATA-TF body the peer accepts;
// zero means unlimited.
func (a *Association) PeerMaxPDULength() uint32 { return a.peerMaxPDU }

// PeerUserInformation exposes the peer's negotiated User Information items
// read-only, including any extended negotiation sub-items.
func (a *Association) PeerUserInformation() pdu.UserInformation { return a.peerInfo }

// Context returns the negotiated context with the given id.
func (a *Association) Context(contextID byte) (*acse.NegotiatedContext, bool) {
	ctx, ok := a.contexts[contextID]
	return ctx, ok
}

// AcceptedContexts returns the accepted contexts ordered by context id.
func (a *Association) AcceptedContexts() []*acse.NegotiatedContext {
	var out []*acse.NegotiatedContext
	for _, ctx := range a.contexts {
		if ctx.Accepted() {
			out = append(out, ctx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextID < out[j].ContextID })
	return out
}

// ContextIDFor returns an accepted presentation context id for the abstract
// syntax, preferring the lowest id for determinism.
func (a *Association) ContextIDFor(abstractSyntax string) (byte, error) {
	var best *acse.NegotiatedContext
	for _, ctx := range a.contexts {
		if ctx.Accepted() && ctx.AbstractSyntax == abstractSyntax {
			if best == nil || ctx.ContextID < best.ContextID {
				best = ctx
			}
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: %s", dicomerr.ErrNoPresentationCtx, abstractSyntax)
	}
	return best.ContextID, nil
}

// SendMessage fragments and sends one DIMSE message on the given context.
func (a *Association) SendMessage(contextID byte, command *types.Message, data []byte) error {
	ctx, ok := a.contexts[contextID]
	if !ok || !ctx.Accepted() {
		return fmt.Errorf("%w: context id %d", dicomerr.ErrNoPresentationCtx, contextID)
	}
	if err := a.machine.Handle(EventPDataSend); err != nil {
		return err
	}

	pdus, err := dimse.FragmentMessage(contextID, dimse.EncodeCommand(command), data, a.peerMaxPDU)
	if err != nil {
		return err
	}
	for _, p := range pdus {
		if err := a.writePDU(p); err != nil {
			a.machine.Handle(EventTransportClosed)
			a.closeTransport()
			return err
		}
	}

	a.logger.Debug("DIMSE message sent",
		"command_field", fmt.Sprintf("0x%04x", command.CommandField),
		"context_id", contextID,
		"pdus", len(pdus),
		"dataset_size", len(data))
	return nil
}

// ReceiveMessage waits for one complete DIMSE message, bounded by the DIMSE
// timeout. Expiry aborts the association.
func (a *Association) ReceiveMessage() (*dimse.Message, error) {
	return a.receiveMessage(a.opts.DIMSETimeout, "DIMSE response")
}

// ReceiveRequest waits for the next incoming DIMSE message on an idle
// established association, bounded by the idle timeout. A clean peer release
// completes the release handshake and returns ErrAssociationReleased.
func (a *Association) ReceiveRequest() (*dimse.Message, error) {
	return a.receiveMessage(a.opts.IdleTimeout, "next request")
}

func (a *Association) receiveMessage(timeout time.Duration, waitingFor string) (*dimse.Message, error) {
	var assembler dimse.Assembler

	for {
		if timeout > 0 {
			_ = a.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		p, err := pdu.ReadPDU(a.conn)
		_ = a.conn.SetReadDeadline(time.Time{})
		if err != nil {
			return nil, a.failRead(waitingFor, timeout, err)
		}

		switch in := p.(type) {
		case *pdu.PDataTF:
			if err := a.machine.Handle(EventPDataReceived); err != nil {
				a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
				a.closeTransport()
				return nil, err
			}
			for _, v := range in.Values {
				msg, err := assembler.Add(v)
				if err != nil {
					a.abortLocal(dicomerr.AbortReasonInvalidPDUValue)
					return nil, err
				}
				if msg != nil {
					a.notifyMessage(msg)
					return msg, nil
				}
			}

		case *pdu.AReleaseRQ:
			if assembler.InProgress() {
				// Release in the middle of a fragmented message.
				a.abortLocal(dicomerr.AbortReasonUnexpectedPDU)
				return nil, dicomerr.NewAbortError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnexpectedPDU)
			}
			if err := a.machine.Handle(EventReleaseRQReceived); err != nil {
				a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
				a.closeTransport()
				return nil, err
			}
			return nil, a.answerRelease()

		case *pdu.AAbort:
			a.machine.Handle(EventAbortReceived)
			a.closeTransport()
			err := dicomerr.NewAbortError(in.Source, in.Reason)
			a.logger.Info("association aborted by peer", "error", err)
			a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: err})
			return nil, err

		default:
			stateErr := a.machine.Handle(eventForPDU(p))
			a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
			a.closeTransport()
			a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: stateErr})
			return nil, stateErr
		}
	}
}

// answerRelease completes the handshake after the peer's A-RELEASE-RQ: send
// A-RELEASE-RP, then wait for the peer to close the transport.
func (a *Association) answerRelease() error {
	if err := a.writePDU(&pdu.AReleaseRP{}); err != nil {
		a.machine.Handle(EventTransportClosed)
		a.closeTransport()
		return err
	}
	a.machine.Handle(EventReleaseReply)
	a.awaitTransportClose()
	a.logger.Info("association released by peer")
	a.opts.Notifier.emit(Notification{Kind: EventKindReleased, Association: a})
	return dicomerr.ErrAssociationReleased
}

// Release performs an orderly release as the initiator. P-DATA arriving
// while the response is pending is discarded; a colliding A-RELEASE-RQ is
// resolved per the role (the requestor answers first, the acceptor waits
// for the peer's reply before sending its own).
func (a *Association) Release() error {
	if err := a.machine.Handle(EventReleaseRequest); err != nil {
		a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
		a.closeTransport()
		return err
	}
	if err := a.writePDU(&pdu.AReleaseRQ{}); err != nil {
		a.machine.Handle(EventTransportClosed)
		a.closeTransport()
		return err
	}

	timer := &artim{conn: a.conn, timeout: a.opts.ACSETimeout}
	timer.start()
	defer timer.stop()

	for {
		p, err := pdu.ReadPDU(a.conn)
		if err != nil {
			return a.failRead("release response", a.opts.ACSETimeout, err)
		}

		switch in := p.(type) {
		case *pdu.PDataTF:
			if err := a.machine.Handle(EventPDataReceived); err != nil {
				a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
				a.closeTransport()
				return err
			}
			a.logger.Debug("P-DATA-TF discarded during release", "pdvs", len(in.Values))

		case *pdu.AReleaseRP:
			if err := a.machine.Handle(EventReleaseRPReceived); err != nil {
				a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
				a.closeTransport()
				return err
			}
			if a.machine.State() == StateReleaseCollisionAcceptor {
				// Peer's reply to our request arrived first; now answer
				// the peer's colliding request.
				if err := a.writePDU(&pdu.AReleaseRP{}); err != nil {
					a.machine.Handle(EventTransportClosed)
					a.closeTransport()
					return err
				}
				a.machine.Handle(EventReleaseReply)
				a.awaitTransportClose()
			} else {
				a.closeTransport()
			}
			a.logger.Info("association released")
			a.opts.Notifier.emit(Notification{Kind: EventKindReleased, Association: a})
			return nil

		case *pdu.AReleaseRQ:
			if err := a.machine.Handle(EventReleaseRQReceived); err != nil {
				a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
				a.closeTransport()
				return err
			}
			a.logger.Debug("release collision", "state", a.machine.State().String())
			if a.machine.State() == StateReleaseCollisionRequestor {
				if err := a.writePDU(&pdu.AReleaseRP{}); err != nil {
					a.machine.Handle(EventTransportClosed)
					a.closeTransport()
					return err
				}
				a.machine.Handle(EventReleaseReply)
			}

		case *pdu.AAbort:
			a.machine.Handle(EventAbortReceived)
			a.closeTransport()
			err := dicomerr.NewAbortError(in.Source, in.Reason)
			a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: err})
			return err

		default:
			stateErr := a.machine.Handle(eventForPDU(p))
			a.sendAbort(dicomerr.AbortReasonUnexpectedPDU)
			a.closeTransport()
			return stateErr
		}
	}
}

// Abort sends A-ABORT best-effort and ends the association immediately.
func (a *Association) Abort(source, reason byte) error {
	if a.machine.State().Terminal() {
		return nil
	}
	a.sendAbortWith(source, reason)
	a.machine.Handle(EventAbortRequest)
	a.closeTransport()
	err := dicomerr.NewAbortError(source, reason)
	a.logger.Info("association aborted locally", "error", err)
	a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: err})
	return nil
}

// Close tears the association down. An established association is aborted;
// a terminal one only has its transport closed.
func (a *Association) Close() error {
	if !a.machine.State().Terminal() {
		return a.Abort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified)
	}
	a.closeTransport()
	return nil
}

// failRead maps a read failure to the event and error surfaced to the
// caller: deadline expiry aborts with a timeout error, a closed transport
// aborts with a connection error.
func (a *Association) failRead(waitingFor string, timeout time.Duration, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		a.machine.Handle(EventARTIMExpired)
		a.sendAbort(dicomerr.AbortReasonNotSpecified)
		a.closeTransport()
		timeoutErr := dicomerr.NewTimeoutError(waitingFor, timeout.String())
		a.logger.Warn("association timed out", "waiting_for", waitingFor)
		a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: timeoutErr})
		return timeoutErr
	}

	a.machine.Handle(EventTransportClosed)
	a.closeTransport()
	if errors.Is(err, io.EOF) {
		err = dicomerr.ErrConnectionClosed
	}
	a.logger.Warn("transport failed", "waiting_for", waitingFor, "error", err)
	a.opts.Notifier.emit(Notification{Kind: EventKindAborted, Association: a, Err: err})
	return err
}

// abortLocal aborts on a local protocol violation (malformed or unexpected
// wire data) with the service-provider source.
func (a *Association) abortLocal(reason byte) {
	a.sendAbort(reason)
	a.machine.Handle(EventAbortRequest)
	a.closeTransport()
	a.opts.Notifier.emit(Notification{
		Kind:        EventKindAborted,
		Association: a,
		Err:         dicomerr.NewAbortError(dicomerr.AbortSourceServiceProvider, reason),
	})
}

func (a *Association) sendAbort(reason byte) {
	a.sendAbortWith(dicomerr.AbortSourceServiceProvider, reason)
}

func (a *Association) sendAbortWith(source, reason byte) {
	_ = a.writePDU(&pdu.AAbort{Source: source, Reason: reason})
}

// awaitTransportClose waits (bounded by the ARTIM) for the peer to close
// the connection after a release reply was sent.
func (a *Association) awaitTransportClose() {
	timer := &artim{conn: a.conn, timeout: a.opts.ACSETimeout}
	timer.start()
	for {
		p, err := pdu.ReadPDU(a.conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				a.machine.Handle(EventARTIMExpired)
			} else {
				a.machine.Handle(EventTransportClosed)
			}
			a.closeTransport()
			return
		}
		// Stray PDUs before the close are ignored.
		a.machine.Handle(eventForPDU(p))
		if a.machine.State().Terminal() {
			a.closeTransport()
			return
		}
	}
}

func (a *Association) writePDU(p pdu.PDU) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if a.opts.WriteTimeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
		defer func() { _ = a.conn.SetWriteDeadline(time.Time{}) }()
	}
	return pdu.WritePDU(a.conn, p)
}

func (a *Association) closeTransport() {
	a.closeOnce.Do(func() {
		_ = a.conn.Close()
	})
}

func (a *Association) notifyMessage(msg *dimse.Message) {
	kind := EventKindResponseReceived
	if msg.Command.IsRequest() {
		kind = EventKindRequestReceived
	}
	a.opts.Notifier.emit(Notification{Kind: kind, Association: a, Message: msg})
}

// eventForPDU maps a received PDU to its state machine event.
func eventForPDU(p pdu.PDU) Event {
	switch p.(type) {
	case *pdu.AAssociateRQ:
		return EventAssociateRQReceived
	case *pdu.AAssociateAC:
		return EventAssociateACReceived
	case *pdu.AAssociateRJ:
		return EventAssociateRJReceived
	case *pdu.PDataTF:
		return EventPDataReceived
	case *pdu.AReleaseRQ:
		return EventReleaseRQReceived
	case *pdu.AReleaseRP:
		return EventReleaseRPReceived
	case *pdu.AAbort:
		return EventAbortReceived
	default:
		return EventTransportClosed
	}
}
