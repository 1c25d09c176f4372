package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
)

// Registry routes incoming DIMSE messages to service handlers by command
// field. It supports both single-response and streaming (multi-response)
// operations and itself implements both handler interfaces, so it can be
// installed directly as a server's handler.
//
// Example usage:
//
//	registry := services.NewRegistry()
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(nil))
//	registry.RegisterHandler(types.CFindRQ, findService)
type Registry struct {
	handlers map[uint16]interfaces.ServiceHandler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Use RegisterHandler to add service
// handlers.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// RegisterHandler registers a service handler for a DIMSE command field.
// Registering the same command again replaces the previous handler.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.handlers[commandField] = handler
}

// UnregisterHandler removes the handler for a command field. Subsequent
// messages with this command are answered with an unsupported-command error.
func (r *Registry) UnregisterHandler(commandField uint16) {
	delete(r.handlers, commandField)
}

// HasHandler reports whether a handler is registered for the command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	_, ok := r.handlers[commandField]
	return ok
}

// RegisteredCommands returns the command fields that have handlers.
func (r *Registry) RegisteredCommands() []uint16 {
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	return commands
}

// HandleDIMSE routes a single-response DIMSE message to its handler.
func (r *Registry) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	handler, err := r.lookup(ctx, msg)
	if err != nil {
		return CreateErrorResponse(msg, types.StatusSOPClassNotSupported), nil, nil
	}
	return handler.HandleDIMSE(ctx, mctx, msg, data)
}

// HandleDIMSEStreaming routes a DIMSE message through the streaming
// interface. Handlers that only implement the single-response interface are
// invoked once and their response forwarded to the responder.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	handler, err := r.lookup(ctx, msg)
	if err != nil {
		return responder.SendResponse(CreateErrorResponse(msg, types.StatusSOPClassNotSupported), nil)
	}

	if streaming, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streaming.HandleDIMSEStreaming(ctx, mctx, msg, data, responder)
	}

	responseMsg, responseData, err := handler.HandleDIMSE(ctx, mctx, msg, data)
	if err != nil {
		return err
	}
	return responder.SendResponse(responseMsg, responseData)
}

func (r *Registry) lookup(ctx context.Context, msg *types.Message) (interfaces.ServiceHandler, error) {
	handler, ok := r.handlers[msg.CommandField]
	if !ok {
		r.logger.WarnContext(ctx, "No handler registered for DIMSE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
		return nil, fmt.Errorf("unsupported DIMSE command: 0x%04x", msg.CommandField)
	}
	return handler, nil
}

// CreateErrorResponse creates a standard DIMSE error response for a failed
// request: the matching response command, no dataset, the given status.
func CreateErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}
