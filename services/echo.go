// Package services provides reusable DICOM service implementations.
//
// This package contains standard DICOM service implementations that can be
// used by any DICOM server application. These implementations follow the
// DICOM standard and have no external backend dependencies.
package services

import (
	"context"
	"log/slog"

	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO verifies connectivity and application-level communication between
// two DICOM Application Entities. It is the DICOM equivalent of a ping:
// stateless, no dataset, always answered with a status.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE processes a C-ECHO request and returns a success response.
func (s *EchoService) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	s.logger.InfoContext(ctx, "C-ECHO request",
		"message_id", msg.MessageID,
		"calling_ae", mctx.CallingAETitle)

	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}
