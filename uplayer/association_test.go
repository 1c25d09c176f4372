package uplayer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/dimse"
	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/types"
)

func connPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func requestConfig() acse.RequestConfig {
	return acse.RequestConfig{
		CalledAETitle:  "STORESCP",
		CallingAETitle: "TESTSCU",
		Contexts: []acse.ProposedContext{{
			AbstractSyntax:   types.VerificationSOPClass,
			TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
		}},
	}
}

func acceptorConfig() acse.AcceptorConfig {
	return acse.AcceptorConfig{
		AETitle: "STORESCP",
		SupportedContexts: []acse.SupportedContext{{
			AbstractSyntax:   types.VerificationSOPClass,
			TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
		}},
	}
}

// establish runs both handshake sides and returns the established pair.
func establish(t *testing.T, opts Options) (requestor, acceptor *Association) {
	t.Helper()
	clientConn, serverConn := connPair(t)

	type result struct {
		assoc *Association
		err   error
	}
	acceptDone := make(chan result, 1)
	go func() {
		a, err := Accept(serverConn, acceptorConfig(), opts)
		acceptDone <- result{a, err}
	}()

	requestor, err := Request(clientConn, requestConfig(), opts)
	require.NoError(t, err)

	got := <-acceptDone
	require.NoError(t, got.err)
	acceptor = got.assoc

	require.Equal(t, StateEstablished, requestor.State())
	require.Equal(t, StateEstablished, acceptor.State())
	return requestor, acceptor
}

func TestHandshakeAccepted(t *testing.T) {
	requestor, acceptor := establish(t, Options{})

	assert.Equal(t, RoleRequestor, requestor.Role())
	assert.Equal(t, RoleAcceptor, acceptor.Role())
	assert.Equal(t, "STORESCP", acceptor.CalledAETitle())
	assert.Equal(t, "TESTSCU", acceptor.CallingAETitle())
	assert.NotEmpty(t, requestor.ID())
	assert.NotEqual(t, requestor.ID(), acceptor.ID())

	require.Len(t, requestor.AcceptedContexts(), 1)
	ctx := requestor.AcceptedContexts()[0]
	assert.Equal(t, byte(1), ctx.ContextID)
	assert.Equal(t, types.VerificationSOPClass, ctx.AbstractSyntax)
	assert.Equal(t, types.ImplicitVRLittleEndian, ctx.TransferSyntax)

	id, err := requestor.ContextIDFor(types.VerificationSOPClass)
	require.NoError(t, err)
	assert.Equal(t, byte(1), id)

	_, err = requestor.ContextIDFor(types.CTImageStorage)
	assert.ErrorIs(t, err, dicomerr.ErrNoPresentationCtx)
}

func TestHandshakeRejectedCalledAETitle(t *testing.T) {
	clientConn, serverConn := connPair(t)

	acceptDone := make(chan error, 1)
	go func() {
		_, err := Accept(serverConn, acceptorConfig(), Options{})
		acceptDone <- err
	}()

	cfg := requestConfig()
	cfg.CalledAETitle = "WRONGAE"
	_, err := Request(clientConn, cfg, Options{})
	require.Error(t, err)

	var assocErr *dicomerr.AssociationError
	require.ErrorAs(t, err, &assocErr)
	assert.Equal(t, dicomerr.RejectedPermanent, assocErr.Result)
	assert.Equal(t, dicomerr.RejectSourceServiceUser, assocErr.Source)
	assert.Equal(t, dicomerr.RejectReasonCalledAETitleNotRecognized, assocErr.Reason)

	require.ErrorAs(t, <-acceptDone, &assocErr)
}

func TestEchoExchange(t *testing.T) {
	requestor, acceptor := establish(t, Options{})

	serverDone := make(chan error, 1)
	go func() {
		msg, err := acceptor.ReceiveRequest()
		if err != nil {
			serverDone <- err
			return
		}
		rsp := &types.Message{
			CommandField:              types.CEchoRSP,
			MessageIDBeingRespondedTo: msg.Command.MessageID,
			AffectedSOPClassUID:       msg.Command.AffectedSOPClassUID,
			CommandDataSetType:        types.NoDataSet,
			Status:                    types.StatusSuccess,
		}
		serverDone <- acceptor.SendMessage(msg.ContextID, rsp, nil)
	}()

	rq := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  types.NoDataSet,
	}
	require.NoError(t, requestor.SendMessage(1, rq, nil))

	rsp, err := requestor.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, uint16(types.CEchoRSP), rsp.Command.CommandField)
	assert.Equal(t, uint16(1), rsp.Command.MessageIDBeingRespondedTo)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Command.Status)
	assert.Nil(t, rsp.Data)

	require.NoError(t, <-serverDone)
}

func TestFragmentedDatasetExchange(t *testing.T) {
	requestor, acceptor := establish(t, Options{})

	payload := make([]byte, 200_000)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make(chan *dimse.Message, 1)
	serverErr := make(chan error, 1)
	go func() {
		msg, err := acceptor.ReceiveRequest()
		serverErr <- err
		received <- msg
	}()

	rq := &types.Message{
		CommandField:        types.CStoreRQ,
		MessageID:           7,
		AffectedSOPClassUID: types.VerificationSOPClass,
		Priority:            types.PriorityMedium,
		CommandDataSetType:  types.DataSetPresent,
	}
	require.NoError(t, requestor.SendMessage(1, rq, payload))

	require.NoError(t, <-serverErr)
	msg := <-received
	assert.Equal(t, uint16(types.CStoreRQ), msg.Command.CommandField)
	assert.Equal(t, payload, msg.Data)
}

func TestSendMessageOnUnknownContext(t *testing.T) {
	requestor, _ := establish(t, Options{})

	rq := &types.Message{
		CommandField:       types.CEchoRQ,
		MessageID:          1,
		CommandDataSetType: types.NoDataSet,
	}
	err := requestor.SendMessage(99, rq, nil)
	assert.ErrorIs(t, err, dicomerr.ErrNoPresentationCtx)
}

func TestOrderlyRelease(t *testing.T) {
	requestor, acceptor := establish(t, Options{})

	serverDone := make(chan error, 1)
	go func() {
		_, err := acceptor.ReceiveRequest()
		serverDone <- err
	}()

	require.NoError(t, requestor.Release())
	assert.Equal(t, StateReleased, requestor.State())

	assert.ErrorIs(t, <-serverDone, dicomerr.ErrAssociationReleased)
	assert.Equal(t, StateReleased, acceptor.State())
}

func TestReleaseCollision(t *testing.T) {
	requestor, acceptor := establish(t, Options{ACSETimeout: 2 * time.Second})

	requestorDone := make(chan error, 1)
	acceptorDone := make(chan error, 1)
	go func() { requestorDone <- requestor.Release() }()
	go func() { acceptorDone <- acceptor.Release() }()

	select {
	case err := <-requestorDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("requestor release did not complete")
	}
	select {
	case err := <-acceptorDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor release did not complete")
	}

	assert.Equal(t, StateReleased, requestor.State())
	assert.Equal(t, StateReleased, acceptor.State())
}

func TestPeerAbortSurfaces(t *testing.T) {
	requestor, acceptor := establish(t, Options{})

	serverDone := make(chan error, 1)
	go func() {
		_, err := acceptor.ReceiveRequest()
		serverDone <- err
	}()

	require.NoError(t, requestor.Abort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified))
	assert.Equal(t, StateAborted, requestor.State())

	err := <-serverDone
	require.Error(t, err)

	var abortErr *dicomerr.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, dicomerr.AbortSourceServiceUser, abortErr.Source)
	assert.Equal(t, StateAborted, acceptor.State())
}

func TestDIMSETimeoutAborts(t *testing.T) {
	timeout := 150 * time.Millisecond
	requestor, acceptor := establish(t, Options{DIMSETimeout: timeout})

	// The acceptor never answers; drain its side so the abort PDU is read.
	go func() {
		_, _ = acceptor.ReceiveRequest()
	}()

	start := time.Now()
	_, err := requestor.ReceiveMessage()
	elapsed := time.Since(start)

	require.Error(t, err)
	var timeoutErr *dicomerr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Timeout())
	assert.Equal(t, StateAborted, requestor.State())
	assert.Less(t, elapsed, timeout+time.Second, "timeout must fire close to the deadline")
}

func TestNotifierLifecycle(t *testing.T) {
	notifier := NewNotifier()
	var kinds []EventKind
	for _, k := range []EventKind{EventKindAccepted, EventKindReleased, EventKindRequestReceived} {
		kind := k
		notifier.Register(kind, func(n Notification) {
			kinds = append(kinds, kind)
		})
	}

	clientConn, serverConn := connPair(t)
	opts := Options{Notifier: notifier}

	acceptDone := make(chan *Association, 1)
	go func() {
		a, err := Accept(serverConn, acceptorConfig(), Options{})
		if err == nil {
			acceptDone <- a
		}
	}()

	requestor, err := Request(clientConn, requestConfig(), opts)
	require.NoError(t, err)
	acceptor := <-acceptDone

	serverDone := make(chan error, 1)
	go func() {
		_, err := acceptor.ReceiveRequest()
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- acceptor.Release()
	}()

	rq := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  types.NoDataSet,
	}
	require.NoError(t, requestor.SendMessage(1, rq, nil))

	// The peer answers the echo with a release instead of a response; the
	// requestor observes the peer-initiated release.
	_, err = requestor.ReceiveMessage()
	require.ErrorIs(t, err, dicomerr.ErrAssociationReleased)
	require.NoError(t, <-serverDone)

	assert.Equal(t, []EventKind{EventKindAccepted, EventKindReleased}, kinds)
}
