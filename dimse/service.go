package dimse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
)

// Transport is the association surface the service layer needs to answer
// requests. It is satisfied by uplayer.Association.
type Transport interface {
	// SendMessage encodes the command set and sends command plus optional
	// data fragments on the given presentation context.
	SendMessage(contextID byte, command *types.Message, data []byte) error

	// ContextIDFor returns an accepted presentation context for the
	// abstract syntax, for sub-operations such as C-GET's C-STOREs.
	ContextIDFor(abstractSyntax string) (byte, error)
}

// Service routes complete DIMSE messages to the registered handler and
// tracks C-CANCEL state per outstanding message id.
type Service struct {
	handler interfaces.ServiceHandler
	logger  *slog.Logger

	mu       sync.Mutex
	canceled map[uint16]bool
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler:  handler,
		logger:   logger,
		canceled: make(map[uint16]bool),
	}
}

// Cancel flags the operation with the given message id as canceled. The
// serving loop calls it when a C-CANCEL-RQ arrives while the operation is
// still in flight; the operation observes the flag through
// MessageContext.Canceled between its pending responses.
func (s *Service) Cancel(messageID uint16) {
	s.mu.Lock()
	s.canceled[messageID] = true
	s.mu.Unlock()
	s.logger.Info("C-CANCEL received", "message_id", messageID)
}

// Dispatch handles one complete message. C-CANCEL requests are consumed
// here: they flip the cancellation flag the running operation polls through
// MessageContext.Canceled and produce no response of their own. Handler
// panics are converted to a processing-failure response; the association
// stays usable.
func (s *Service) Dispatch(ctx context.Context, t Transport, mctx *interfaces.MessageContext, msg *Message) error {
	cmd := msg.Command

	if cmd.CommandField == types.CCancelRQ {
		s.Cancel(cmd.MessageIDBeingRespondedTo)
		return nil
	}

	// The flag is cleared only after the operation: a cancel that lands
	// between the read loop and this dispatch must still apply.
	messageID := cmd.MessageID
	defer func() {
		s.mu.Lock()
		delete(s.canceled, messageID)
		s.mu.Unlock()
	}()

	mctx.Canceled = func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.canceled[messageID]
	}

	s.logger.Debug("Dispatching DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", cmd.CommandField),
		"message_id", messageID,
		"context_id", msg.ContextID,
		"dataset_size", len(msg.Data))

	responder := &responseSender{transport: t, contextID: msg.ContextID}

	err := s.invoke(ctx, mctx, msg, responder)
	if err != nil {
		s.logger.Warn("Service handler failed", "error", err, "message_id", messageID)
		return s.sendFailure(t, msg, types.StatusProcessingFailure)
	}
	return nil
}

// invoke runs the handler with panic containment.
func (s *Service) invoke(ctx context.Context, mctx *interfaces.MessageContext, msg *Message, responder *responseSender) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service handler panicked: %v", r)
		}
	}()

	if streaming, ok := s.handler.(interfaces.StreamingServiceHandler); ok {
		return streaming.HandleDIMSEStreaming(ctx, mctx, msg.Command, msg.Data, responder)
	}

	responseMsg, responseData, err := s.handler.HandleDIMSE(ctx, mctx, msg.Command, msg.Data)
	if err != nil {
		return err
	}
	return responder.SendResponse(responseMsg, responseData)
}

func (s *Service) sendFailure(t Transport, msg *Message, status uint16) error {
	rsp := &types.Message{
		CommandField:              types.ResponseCommandFor(msg.Command.CommandField),
		MessageIDBeingRespondedTo: msg.Command.MessageID,
		AffectedSOPClassUID:       msg.Command.AffectedSOPClassUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
	return t.SendMessage(msg.ContextID, rsp, nil)
}

// responseSender implements interfaces.CGetResponder on top of a Transport.
type responseSender struct {
	transport Transport
	contextID byte
	nextSubID uint16
}

// SendResponse implements ResponseSender interface
func (r *responseSender) SendResponse(msg *types.Message, data []byte) error {
	if len(data) > 0 {
		msg.CommandDataSetType = types.DataSetPresent
	} else {
		msg.CommandDataSetType = types.NoDataSet
	}
	return r.transport.SendMessage(r.contextID, msg, data)
}

// SendCStore sends a C-STORE sub-operation on the same association, on the
// accepted presentation context for the instance's SOP class.
func (r *responseSender) SendCStore(sopClassUID, sopInstanceUID string, data []byte) error {
	contextID, err := r.transport.ContextIDFor(sopClassUID)
	if err != nil {
		return err
	}
	r.nextSubID++
	store := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              r.nextSubID,
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		Priority:               types.PriorityMedium,
		CommandDataSetType:     types.DataSetPresent,
	}
	return r.transport.SendMessage(contextID, store, data)
}
