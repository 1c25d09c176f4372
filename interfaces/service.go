// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/radwire/dicomnet/types"
)

// MessageContext describes the negotiated context a DIMSE request arrived
// on, plus the peer identity. Handlers must treat it as read-only.
type MessageContext struct {
	ContextID         byte
	AbstractSyntaxUID string
	TransferSyntaxUID string
	CallingAETitle    string
	CalledAETitle     string

	// Canceled reports whether a C-CANCEL has been received for this
	// operation. Multi-response handlers are expected to poll it between
	// successive pending responses and stop with a cancelled status.
	Canceled func() bool
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, mctx *MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, mctx *MessageContext, msg *types.Message, data []byte, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate responses
type ResponseSender interface {
	SendResponse(msg *types.Message, data []byte) error
}

// CGetResponder interface for C-GET operations that need to send C-STORE sub-operations
type CGetResponder interface {
	ResponseSender
	// SendCStore sends a C-STORE sub-operation on the same association
	SendCStore(sopClassUID, sopInstanceUID string, data []byte) error
}

// MoveDestinationResolver maps a C-MOVE destination AE title to the network
// address a new outbound association should be opened to.
type MoveDestinationResolver interface {
	ResolveMoveDestination(aeTitle string) (address string, err error)
}
