// Package client implements the SCU side of the DICOM network protocol:
// association establishment and the C-ECHO, C-STORE, C-FIND, C-GET, C-MOVE
// and C-CANCEL operations on top of it.
//
// Datasets cross this API as raw transfer-syntax-encoded bytes; the client
// moves them without interpreting their contents.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/dimse"
	"github.com/radwire/dicomnet/types"
	"github.com/radwire/dicomnet/uplayer"
)

// Config holds client configuration. Zero values select the defaults noted
// per field.
type Config struct {
	CallingAETitle string
	CalledAETitle  string

	// Contexts are the presentation contexts to propose. When empty, a
	// default set covering verification, CT/MR/SC storage and study root
	// query/retrieve is proposed.
	Contexts []acse.ProposedContext

	// PreferredTransferSyntaxes is used when building the default context
	// set. First entry is preferred. Defaults to Explicit then Implicit VR
	// Little Endian.
	PreferredTransferSyntaxes []string

	MaxPDULength   uint32
	ConnectTimeout time.Duration // TCP dial timeout, default 30s
	ACSETimeout    time.Duration // association/release response timeout, default 30s
	DIMSETimeout   time.Duration // DIMSE response timeout, default 60s

	Logger *slog.Logger
}

// Client is an established client-side association.
type Client struct {
	assoc  *uplayer.Association
	logger *slog.Logger
	nextID atomic.Uint32
}

// Connect dials the remote SCP and establishes an association.
func Connect(address string, config Config) (*Client, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	contexts := config.Contexts
	if len(contexts) == 0 {
		contexts = defaultContexts(config.PreferredTransferSyntaxes)
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	assoc, err := uplayer.Request(conn, acse.RequestConfig{
		CalledAETitle:  config.CalledAETitle,
		CallingAETitle: config.CallingAETitle,
		Contexts:       contexts,
		MaxPDULength:   config.MaxPDULength,
	}, uplayer.Options{
		ACSETimeout:  config.ACSETimeout,
		DIMSETimeout: config.DIMSETimeout,
		MaxPDULength: config.MaxPDULength,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle)

	return &Client{assoc: assoc, logger: logger}, nil
}

// defaultContexts proposes verification, the common storage classes and the
// study root query/retrieve models.
func defaultContexts(transferSyntaxes []string) []acse.ProposedContext {
	if len(transferSyntaxes) == 0 {
		transferSyntaxes = []string{
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		}
	}

	abstractSyntaxes := []string{
		types.VerificationSOPClass,
		types.CTImageStorage,
		types.MRImageStorage,
		types.SecondaryCaptureImageStorage,
		types.StudyRootQueryRetrieveInformationModelFind,
		types.StudyRootQueryRetrieveInformationModelGet,
		types.StudyRootQueryRetrieveInformationModelMove,
	}

	contexts := make([]acse.ProposedContext, 0, len(abstractSyntaxes))
	for _, as := range abstractSyntaxes {
		contexts = append(contexts, acse.ProposedContext{
			AbstractSyntax:   as,
			TransferSyntaxes: transferSyntaxes,
		})
	}
	return contexts
}

// Association exposes the underlying association for inspection.
func (c *Client) Association() *uplayer.Association {
	return c.assoc
}

// nextMessageID allocates message ids, skipping zero.
func (c *Client) nextMessageID() uint16 {
	id := uint16(c.nextID.Add(1))
	if id == 0 {
		id = uint16(c.nextID.Add(1))
	}
	return id
}

// Release performs an orderly association release.
func (c *Client) Release() error {
	return c.assoc.Release()
}

// Abort abandons the association immediately.
func (c *Client) Abort() error {
	return c.assoc.Abort(0x00, 0x00)
}

// Close releases the association, falling back to closing the transport.
func (c *Client) Close() error {
	if err := c.assoc.Release(); err != nil {
		return c.assoc.Close()
	}
	return nil
}

// send builds and sends a DIMSE message on the accepted context for the
// abstract syntax, returning the context id used.
func (c *Client) send(abstractSyntax string, command *types.Message, data []byte) (byte, error) {
	contextID, err := c.assoc.ContextIDFor(abstractSyntax)
	if err != nil {
		return 0, err
	}
	return contextID, c.assoc.SendMessage(contextID, command, data)
}

// receiveResponse waits for one DIMSE message and checks its command field.
func (c *Client) receiveResponse(expected uint16) (*dimse.Message, error) {
	msg, err := c.assoc.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	if msg.Command.CommandField != expected {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected 0x%04x)",
			msg.Command.CommandField, expected)
	}
	return msg, nil
}
