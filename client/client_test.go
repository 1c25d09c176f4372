package client_test

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radwire/dicomnet/client"
	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/server"
	"github.com/radwire/dicomnet/services"
	"github.com/radwire/dicomnet/types"
)

// findHandler answers C-FIND with a fixed number of pending matches.
type findHandler struct {
	matches [][]byte
}

func (h *findHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return services.NewCFindSuccessResponse(msg), nil, nil
}

func (h *findHandler) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	for _, match := range h.matches {
		if mctx.Canceled != nil && mctx.Canceled() {
			return responder.SendResponse(services.NewCFindCancelResponse(msg), nil)
		}
		if err := responder.SendResponse(services.NewCFindPendingResponse(msg), match); err != nil {
			return err
		}
	}
	return responder.SendResponse(services.NewCFindSuccessResponse(msg), nil)
}

// cancelableFindHandler emits one pending match, reports the request's
// message id, then waits for the cancellation flag before finishing.
type cancelableFindHandler struct {
	started chan uint16
}

func (h *cancelableFindHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return services.CreateErrorResponse(msg, types.StatusProcessingFailure), nil, nil
}

func (h *cancelableFindHandler) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	if err := responder.SendResponse(services.NewCFindPendingResponse(msg), []byte{0x01}); err != nil {
		return err
	}
	h.started <- msg.MessageID

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if mctx.Canceled != nil && mctx.Canceled() {
			return responder.SendResponse(services.NewCFindCancelResponse(msg), nil)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return responder.SendResponse(services.NewCFindSuccessResponse(msg), nil)
}

// storeHandler records stored instances.
type storeHandler struct {
	mu     sync.Mutex
	stored map[string][]byte
}

func (h *storeHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	h.mu.Lock()
	if h.stored == nil {
		h.stored = make(map[string][]byte)
	}
	h.stored[msg.AffectedSOPInstanceUID] = data
	h.mu.Unlock()
	return services.NewCStoreResponse(msg, types.StatusSuccess), nil, nil
}

// getHandler answers C-GET with one C-STORE sub-operation then success.
type getHandler struct {
	instanceData []byte
}

func (h *getHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return services.CreateErrorResponse(msg, types.StatusProcessingFailure), nil, nil
}

func (h *getHandler) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	getResponder, ok := responder.(interfaces.CGetResponder)
	if !ok {
		return responder.SendResponse(services.CreateErrorResponse(msg, types.StatusProcessingFailure), nil)
	}

	if err := getResponder.SendCStore(types.CTImageStorage, "1.2.3.4.100", h.instanceData); err != nil {
		return err
	}

	completed := uint16(1)
	final := services.NewResponseBuilder(msg).CGetResponse(types.StatusSuccess, &completed, nil, nil, nil)
	return responder.SendResponse(final, nil)
}

func startServer(t *testing.T, registry *services.Registry, opts ...server.Option) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New("TESTSCP", registry, opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("server did not shut down in time")
		}
	})

	return ln.Addr().String()
}

func testRegistry() *services.Registry {
	logger := slog.Default()
	registry := services.NewRegistry(logger)
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	return registry
}

func TestClientEcho(t *testing.T) {
	addr := startServer(t, testRegistry())

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	rsp, err := c.SendCEcho()
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)

	require.NoError(t, c.Release())
}

func TestClientEchoRepeated(t *testing.T) {
	addr := startServer(t, testRegistry())

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	var lastID uint16
	for i := 0; i < 3; i++ {
		rsp, err := c.SendCEcho()
		require.NoError(t, err)
		assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)
		assert.Greater(t, rsp.MessageID, lastID, "message ids must increase")
		lastID = rsp.MessageID
	}

	require.NoError(t, c.Release())
}

func TestClientFindMultipleResponses(t *testing.T) {
	registry := testRegistry()
	registry.RegisterHandler(types.CFindRQ, &findHandler{
		matches: [][]byte{{0x01}, {0x02}, {0x03}},
	})
	addr := startServer(t, registry)

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	responses, err := c.SendCFind(&client.CFindRequest{Dataset: []byte{0x08, 0x00}})
	require.NoError(t, err)
	require.Len(t, responses, 4)

	for i, rsp := range responses[:3] {
		assert.Equal(t, uint16(types.StatusPending), rsp.Status, "response %d", i)
		assert.NotEmpty(t, rsp.Dataset, "response %d", i)
	}
	final := responses[3]
	assert.Equal(t, uint16(types.StatusSuccess), final.Status)
	assert.Empty(t, final.Dataset)

	require.NoError(t, c.Release())
}

func TestClientCancelDuringFind(t *testing.T) {
	handler := &cancelableFindHandler{started: make(chan uint16, 1)}
	registry := testRegistry()
	registry.RegisterHandler(types.CFindRQ, handler)
	addr := startServer(t, registry)

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	type findResult struct {
		responses []*client.CFindResponse
		err       error
	}
	done := make(chan findResult, 1)
	go func() {
		responses, err := c.SendCFind(&client.CFindRequest{Dataset: []byte{0x08, 0x00}})
		done <- findResult{responses, err}
	}()

	var messageID uint16
	select {
	case messageID = <-handler.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no pending response received")
	}

	require.NoError(t, c.SendCCancel(messageID, types.StudyRootQueryRetrieveInformationModelFind))

	var res findResult
	select {
	case res = <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("find did not finish after cancel")
	}
	require.NoError(t, res.err)
	require.NotEmpty(t, res.responses)

	final := res.responses[len(res.responses)-1]
	assert.Equal(t, uint16(types.StatusCancel), final.Status,
		"operation must end with a cancel status, not run to completion")

	require.NoError(t, c.Release())
}

func TestClientStore(t *testing.T) {
	registry := testRegistry()
	handler := &storeHandler{}
	registry.RegisterHandler(types.CStoreRQ, handler)
	addr := startServer(t, registry)

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
		MaxPDULength:   16384,
	})
	require.NoError(t, err)
	defer c.Close()

	data := make([]byte, 50_000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	rsp, err := c.SendCStore(&client.CStoreRequest{
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: "1.2.3.4.5",
		Data:           data,
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)
	assert.Equal(t, "1.2.3.4.5", rsp.SOPInstanceUID)

	handler.mu.Lock()
	stored := handler.stored["1.2.3.4.5"]
	handler.mu.Unlock()
	assert.Equal(t, data, stored)

	require.NoError(t, c.Release())
}

func TestClientGetWithSubOperations(t *testing.T) {
	instance := []byte{0xCA, 0xFE, 0xBA, 0xBE}
	registry := testRegistry()
	registry.RegisterHandler(types.CGetRQ, &getHandler{instanceData: instance})
	addr := startServer(t, registry)

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	var gotUID string
	var gotData []byte
	responses, err := c.SendCGet(&client.CGetRequest{
		Dataset: []byte{0x08, 0x00},
		OnStore: func(sopClassUID, sopInstanceUID string, data []byte) uint16 {
			gotUID = sopInstanceUID
			gotData = data
			return types.StatusSuccess
		},
	})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, uint16(types.StatusSuccess), responses[0].Status)
	require.NotNil(t, responses[0].NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(1), *responses[0].NumberOfCompletedSuboperations)

	assert.Equal(t, "1.2.3.4.100", gotUID)
	assert.Equal(t, instance, gotData)

	require.NoError(t, c.Release())
}

func TestClientRejectedByCallingAETitle(t *testing.T) {
	addr := startServer(t, testRegistry(),
		server.WithAllowedCallingAETitles([]string{"TRUSTED"}))

	_, err := client.Connect(addr, client.Config{
		CallingAETitle: "INTRUDER",
		CalledAETitle:  "TESTSCP",
	})
	require.Error(t, err)
}

func TestClientUnsupportedSOPClass(t *testing.T) {
	addr := startServer(t, testRegistry())

	c, err := client.Connect(addr, client.Config{
		CallingAETitle: "TESTSCU",
		CalledAETitle:  "TESTSCP",
	})
	require.NoError(t, err)
	defer c.Close()

	// C-FIND has no registered handler; the registry answers with
	// sop-class-not-supported rather than dropping the association.
	responses, err := c.SendCFind(&client.CFindRequest{Dataset: []byte{0x01, 0x02}})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, uint16(types.StatusSOPClassNotSupported), responses[0].Status)

	require.NoError(t, c.Release())
}
