package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/client"
	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
)

// MoveInstance is one instance selected by a C-MOVE query, encoded and
// ready for transfer.
type MoveInstance struct {
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
}

// MoveQueryFunc selects the instances matching a C-MOVE identifier.
type MoveQueryFunc func(ctx context.Context, mctx *interfaces.MessageContext, query []byte) ([]MoveInstance, error)

// storeSender is the outbound association surface the move service needs;
// satisfied by *client.Client.
type storeSender interface {
	SendCStore(req *client.CStoreRequest) (*client.CStoreResponse, error)
	Release() error
}

// MoveService handles C-MOVE requests: it resolves the destination AE
// title through the configured resolver, opens a separate outbound
// association to it and transfers the matching instances as C-STORE
// sub-operations, reporting progress with pending responses.
type MoveService struct {
	aeTitle  string
	resolver interfaces.MoveDestinationResolver
	query    MoveQueryFunc
	logger   *slog.Logger

	// dial is replaceable for tests.
	dial func(address, calledAE string, contexts []acse.ProposedContext) (storeSender, error)
}

// NewMoveService creates a C-MOVE service. aeTitle is used as the calling
// AE title on outbound store associations.
func NewMoveService(aeTitle string, resolver interfaces.MoveDestinationResolver, query MoveQueryFunc, logger *slog.Logger) *MoveService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MoveService{
		aeTitle:  aeTitle,
		resolver: resolver,
		query:    query,
		logger:   logger,
	}
	s.dial = func(address, calledAE string, contexts []acse.ProposedContext) (storeSender, error) {
		return client.Connect(address, client.Config{
			CallingAETitle: s.aeTitle,
			CalledAETitle:  calledAE,
			Contexts:       contexts,
			Logger:         s.logger,
		})
	}
	return s
}

// HandleDIMSE answers the non-streaming path with a failure; C-MOVE is
// inherently multi-response.
func (s *MoveService) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return CreateErrorResponse(msg, types.StatusProcessingFailure), nil, nil
}

// HandleDIMSEStreaming performs the move. A pending response follows each
// sub-operation; the final response carries the totals. Cancellation is
// honored between sub-operations.
func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	builder := NewResponseBuilder(msg)

	address, err := s.resolver.ResolveMoveDestination(msg.MoveDestination)
	if err != nil {
		s.logger.WarnContext(ctx, "C-MOVE destination unknown",
			"destination", msg.MoveDestination, "error", err)
		return responder.SendResponse(builder.CMoveResponse(types.StatusMoveDestinationUnknown, nil, nil, nil, nil), nil)
	}

	instances, err := s.query(ctx, mctx, data)
	if err != nil {
		return fmt.Errorf("move query failed: %w", err)
	}

	outbound, err := s.dial(address, msg.MoveDestination, storeContextsFor(instances))
	if err != nil {
		s.logger.WarnContext(ctx, "C-MOVE outbound association failed",
			"destination", msg.MoveDestination, "address", address, "error", err)
		return responder.SendResponse(builder.CMoveResponse(types.StatusMoveDestinationUnknown, nil, nil, nil, nil), nil)
	}
	defer outbound.Release()

	var completed, failed, warning uint16
	remaining := uint16(len(instances))

	// Each response carries its own counter snapshot; the loop keeps
	// mutating the running totals.
	snapshot := func(status uint16) *types.Message {
		c, f, w, r := completed, failed, warning, remaining
		return builder.CMoveResponse(status, &c, &f, &w, &r)
	}

	for _, instance := range instances {
		if mctx.Canceled != nil && mctx.Canceled() {
			s.logger.InfoContext(ctx, "C-MOVE canceled",
				"message_id", msg.MessageID,
				"completed", completed,
				"remaining", remaining)
			return responder.SendResponse(snapshot(types.StatusCancel), nil)
		}

		rsp, err := outbound.SendCStore(&client.CStoreRequest{
			SOPClassUID:    instance.SOPClassUID,
			SOPInstanceUID: instance.SOPInstanceUID,
			Data:           instance.Data,
		})
		remaining--
		switch {
		case err != nil:
			failed++
			s.logger.WarnContext(ctx, "C-MOVE sub-operation failed",
				"sop_instance", instance.SOPInstanceUID, "error", err)
		case types.IsFailure(rsp.Status):
			failed++
		case rsp.Status != types.StatusSuccess:
			warning++
		default:
			completed++
		}

		if err := responder.SendResponse(snapshot(types.StatusPending), nil); err != nil {
			return err
		}
	}

	status := uint16(types.StatusSuccess)
	if failed > 0 {
		status = types.StatusFailure
	}
	return responder.SendResponse(snapshot(status), nil)
}

// storeContextsFor proposes one storage context per distinct SOP class in
// the transfer set.
func storeContextsFor(instances []MoveInstance) []acse.ProposedContext {
	seen := make(map[string]bool)
	var contexts []acse.ProposedContext
	for _, instance := range instances {
		if seen[instance.SOPClassUID] {
			continue
		}
		seen[instance.SOPClassUID] = true
		contexts = append(contexts, acse.ProposedContext{
			AbstractSyntax: instance.SOPClassUID,
			TransferSyntaxes: []string{
				types.ExplicitVRLittleEndian,
				types.ImplicitVRLittleEndian,
			},
		})
	}
	return contexts
}
