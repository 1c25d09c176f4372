// Package server exposes a reusable DICOM listener that accepts
// associations, negotiates presentation contexts and dispatches DIMSE
// requests to a service handler.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/dimse"
	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
	"github.com/radwire/dicomnet/uplayer"
)

// defaultMaxAssociations bounds concurrent associations when the caller
// does not configure a limit.
const defaultMaxAssociations = 64

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithSupportedContexts replaces the default presentation context set.
func WithSupportedContexts(contexts []acse.SupportedContext) Option {
	return func(s *Server) {
		s.SupportedContexts = contexts
	}
}

// WithAllowedCallingAETitles restricts which calling AE titles may
// associate. Empty allows any.
func WithAllowedCallingAETitles(titles []string) Option {
	return func(s *Server) {
		s.AllowedCallingAETitles = titles
	}
}

// WithMaxPDULength sets the maximum P-DATA-TF body advertised to peers.
func WithMaxPDULength(length uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = length
	}
}

// WithMaxAssociations bounds the number of concurrent associations.
// Connections beyond the limit wait for a slot.
func WithMaxAssociations(n int64) Option {
	return func(s *Server) {
		s.MaxAssociations = n
	}
}

// WithACSETimeout sets the association handshake and release timeout.
func WithACSETimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ACSETimeout = timeout
	}
}

// WithIdleTimeout sets how long an established association may sit idle
// between requests before it is aborted.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.IdleTimeout = timeout
	}
}

// WithNotifier subscribes a notifier to association lifecycle events.
func WithNotifier(notifier *uplayer.Notifier) Option {
	return func(s *Server) {
		s.Notifier = notifier
	}
}

// WithUserIdentityValidator installs a user identity check applied during
// association negotiation.
func WithUserIdentityValidator(validate acse.UserIdentityValidator) Option {
	return func(s *Server) {
		s.ValidateUserIdentity = validate
	}
}

// Server is a DICOM SCP listener. It accepts associations, runs one worker
// goroutine per association and routes complete DIMSE messages to Handler.
type Server struct {
	AETitle string
	Handler interfaces.ServiceHandler
	Logger  *slog.Logger

	SupportedContexts      []acse.SupportedContext
	AllowedCallingAETitles []string
	ValidateUserIdentity   acse.UserIdentityValidator

	MaxPDULength    uint32
	MaxAssociations int64
	ACSETimeout     time.Duration
	IdleTimeout     time.Duration

	Notifier *uplayer.Notifier
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{AETitle: aeTitle, Handler: handler}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context
// is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, handler, opts...)
	return srv.Serve(ctx, listener)
}

// DefaultSupportedContexts covers verification, every registered storage
// SOP class and the study/patient root query/retrieve models, each with
// Explicit and Implicit VR Little Endian.
func DefaultSupportedContexts() []acse.SupportedContext {
	transferSyntaxes := []string{
		types.ExplicitVRLittleEndian,
		types.ImplicitVRLittleEndian,
	}

	abstractSyntaxes := []string{types.VerificationSOPClass}
	abstractSyntaxes = append(abstractSyntaxes, types.SOPClassUIDsByCategory(types.CategoryStorage)...)
	abstractSyntaxes = append(abstractSyntaxes,
		types.StudyRootQueryRetrieveInformationModelFind,
		types.StudyRootQueryRetrieveInformationModelGet,
		types.StudyRootQueryRetrieveInformationModelMove,
		types.PatientRootQueryRetrieveInformationModelFind,
		types.PatientRootQueryRetrieveInformationModelGet,
		types.PatientRootQueryRetrieveInformationModelMove,
	)

	contexts := make([]acse.SupportedContext, 0, len(abstractSyntaxes))
	for _, as := range abstractSyntaxes {
		contexts = append(contexts, acse.SupportedContext{
			AbstractSyntax:   as,
			TransferSyntaxes: transferSyntaxes,
		})
	}
	return contexts
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()

	maxAssociations := s.MaxAssociations
	if maxAssociations <= 0 {
		maxAssociations = defaultMaxAssociations
	}
	pool := semaphore.NewWeighted(maxAssociations)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle,
		"max_associations", maxAssociations)

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		if err := pool.Acquire(ctx, 1); err != nil {
			conn.Close()
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer pool.Release(1)
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	logger.Info("Accepted DICOM connection", "remote_addr", conn.RemoteAddr())

	supported := s.SupportedContexts
	if len(supported) == 0 {
		supported = DefaultSupportedContexts()
	}

	assoc, err := uplayer.Accept(conn, acse.AcceptorConfig{
		AETitle:                s.AETitle,
		AllowedCallingAETitles: s.AllowedCallingAETitles,
		SupportedContexts:      supported,
		MaxPDULength:           s.MaxPDULength,
		ValidateUserIdentity:   s.ValidateUserIdentity,
	}, uplayer.Options{
		ACSETimeout:  s.ACSETimeout,
		IdleTimeout:  s.IdleTimeout,
		MaxPDULength: s.MaxPDULength,
		Logger:       logger,
		Notifier:     s.Notifier,
	})
	if err != nil {
		logger.Info("Association not established",
			"error", err,
			"remote_addr", conn.RemoteAddr())
		return
	}
	defer assoc.Close()

	service := dimse.NewService(s.Handler, logger)
	s.serveAssociation(ctx, assoc, service, logger)
}

// serveAssociation is the per-association worker loop. Reading and dispatch
// run concurrently: the reader keeps draining the socket while a handler is
// busy, so a C-CANCEL-RQ reaches the in-flight operation between its pending
// responses instead of queueing behind it.
func (s *Server) serveAssociation(ctx context.Context, assoc *uplayer.Association, service *dimse.Service, logger *slog.Logger) {
	requests := make(chan *dimse.Message)
	readErr := make(chan error, 1)

	go func() {
		defer close(requests)
		for {
			msg, err := assoc.ReceiveRequest()
			if err != nil {
				readErr <- err
				return
			}

			// Consumed out-of-band: the flag must flip while the canceled
			// operation is still running.
			if msg.Command.CommandField == types.CCancelRQ {
				service.Cancel(msg.Command.MessageIDBeingRespondedTo)
				continue
			}

			// Responses to sub-operations we initiated, such as the
			// C-STORE-RSP answering a C-GET sub-operation, are not
			// dispatched.
			if !msg.Command.IsRequest() {
				logger.Debug("Sub-operation response received",
					"command_field", msg.Command.CommandField,
					"status", msg.Command.Status)
				continue
			}

			requests <- msg
		}
	}()

	// After a failure the loop keeps draining so the reader never blocks on
	// a request already in flight; the closed transport ends it.
	serving := true
	for msg := range requests {
		if !serving {
			continue
		}

		negotiated, ok := assoc.Context(msg.ContextID)
		if !ok || !negotiated.Accepted() {
			logger.Warn("Message on unnegotiated presentation context",
				"context_id", msg.ContextID)
			assoc.Abort(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonInvalidPDUValue)
			serving = false
			continue
		}

		mctx := &interfaces.MessageContext{
			ContextID:         msg.ContextID,
			AbstractSyntaxUID: negotiated.AbstractSyntax,
			TransferSyntaxUID: negotiated.TransferSyntax,
			CallingAETitle:    assoc.CallingAETitle(),
			CalledAETitle:     assoc.CalledAETitle(),
		}

		if err := service.Dispatch(ctx, assoc, mctx, msg); err != nil {
			logger.Warn("Failed to dispatch DIMSE message",
				"error", err,
				"association_id", assoc.ID())
			assoc.Close()
			serving = false
		}
	}

	err := <-readErr
	switch {
	case errors.Is(err, dicomerr.ErrAssociationReleased):
		logger.Info("Association released", "association_id", assoc.ID())
	case errors.Is(err, dicomerr.ErrAssociationAborted):
		logger.Info("Association aborted", "association_id", assoc.ID(), "error", err)
	case ctx.Err() != nil:
	default:
		logger.Warn("Association ended", "association_id", assoc.ID(), "error", err)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
