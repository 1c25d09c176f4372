package dimse

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/pdu"
	"github.com/radwire/dicomnet/types"
)

func u16ptr(v uint16) *uint16 { return &v }

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *types.Message
	}{
		{
			name: "echo request",
			msg: &types.Message{
				CommandField:        types.CEchoRQ,
				MessageID:           1,
				AffectedSOPClassUID: types.VerificationSOPClass,
				CommandDataSetType:  types.NoDataSet,
			},
		},
		{
			name: "store request",
			msg: &types.Message{
				CommandField:           types.CStoreRQ,
				MessageID:              7,
				AffectedSOPClassUID:    types.CTImageStorage,
				AffectedSOPInstanceUID: "1.2.3.4.5",
				Priority:               types.PriorityMedium,
				CommandDataSetType:     types.DataSetPresent,
			},
		},
		{
			name: "store sub-operation with move originator",
			msg: &types.Message{
				CommandField:            types.CStoreRQ,
				MessageID:               2,
				AffectedSOPClassUID:     types.MRImageStorage,
				AffectedSOPInstanceUID:  "1.2.3.4.6",
				Priority:                types.PriorityMedium,
				CommandDataSetType:      types.DataSetPresent,
				MoveOriginatorAETitle:   "MOVESCU",
				MoveOriginatorMessageID: 9,
			},
		},
		{
			name: "move request",
			msg: &types.Message{
				CommandField:        types.CMoveRQ,
				MessageID:           3,
				AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelMove,
				MoveDestination:     "STORESCP",
				Priority:            types.PriorityMedium,
				CommandDataSetType:  types.DataSetPresent,
			},
		},
		{
			name: "move response with counters",
			msg: &types.Message{
				CommandField:                   types.CMoveRSP,
				MessageIDBeingRespondedTo:      3,
				AffectedSOPClassUID:            types.StudyRootQueryRetrieveInformationModelMove,
				CommandDataSetType:             types.NoDataSet,
				Status:                         types.StatusPending,
				NumberOfRemainingSuboperations: u16ptr(2),
				NumberOfCompletedSuboperations: u16ptr(1),
				NumberOfFailedSuboperations:    u16ptr(0),
				NumberOfWarningSuboperations:   u16ptr(0),
			},
		},
		{
			name: "cancel request",
			msg: &types.Message{
				CommandField:              types.CCancelRQ,
				MessageIDBeingRespondedTo: 3,
				CommandDataSetType:        types.NoDataSet,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeCommand(tt.msg)
			assert.Zero(t, len(encoded)%2)

			parsed, err := ParseCommand(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, parsed)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	valid := EncodeCommand(&types.Message{
		CommandField:       types.CEchoRQ,
		MessageID:          1,
		CommandDataSetType: types.NoDataSet,
	})

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", valid[:len(valid)-13]},
		{"length exceeds buffer", append(append([]byte{}, valid...), 0x00, 0x00, 0x00, 0x01, 0xFF, 0x00, 0x00, 0x00)},
		{"wrong group", []byte{0x08, 0x00, 0x16, 0x00, 0x02, 0x00, 0x00, 0x00, 0x43, 0x54}},
		{"no command field", EncodeCommand(&types.Message{CommandField: types.CEchoRQ})[:12]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.data)
			assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)
		})
	}
}

func reassemble(t *testing.T, pdus []*pdu.PDataTF) *Message {
	t.Helper()
	var assembler Assembler
	for i, p := range pdus {
		for _, v := range p.Values {
			msg, err := assembler.Add(v)
			require.NoError(t, err)
			if msg != nil {
				require.Equal(t, len(pdus)-1, i, "message completed before final PDU")
				return msg
			}
		}
	}
	t.Fatal("PDV stream ended without completing a message")
	return nil
}

func TestFragmentReassembleBounded(t *testing.T) {
	const maxPDU = 16384

	command := EncodeCommand(&types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4",
		Priority:               types.PriorityMedium,
		CommandDataSetType:     types.DataSetPresent,
	})
	data := bytes.Repeat([]byte{0xAB}, 200000)

	pdus, err := FragmentMessage(1, command, data, maxPDU)
	require.NoError(t, err)

	commandLastSeen := 0
	dataStarted := false
	for _, p := range pdus {
		encoded, err := pdu.Encode(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(encoded)-6, maxPDU, "PDU body exceeds negotiated maximum")

		for _, v := range p.Values {
			if v.Command {
				assert.False(t, dataStarted, "command fragment after data began")
				if v.Last {
					commandLastSeen++
				}
			} else {
				assert.Equal(t, 1, commandLastSeen, "data fragment before command completed")
				dataStarted = true
			}
		}
	}
	assert.Equal(t, 1, commandLastSeen)

	msg := reassemble(t, pdus)
	assert.Equal(t, command, msg.CommandBytes)
	assert.Equal(t, data, msg.Data)
	assert.Equal(t, uint16(types.CStoreRQ), msg.Command.CommandField)
}

func TestFragmentUnlimited(t *testing.T) {
	command := EncodeCommand(&types.Message{
		CommandField:       types.CEchoRQ,
		MessageID:          1,
		CommandDataSetType: types.DataSetPresent,
	})
	data := bytes.Repeat([]byte{0x01}, 500000)

	pdus, err := FragmentMessage(3, command, data, 0)
	require.NoError(t, err)
	require.Len(t, pdus, 2)
	assert.True(t, pdus[0].Values[0].Command)
	assert.True(t, pdus[0].Values[0].Last)
	assert.False(t, pdus[1].Values[0].Command)
	assert.True(t, pdus[1].Values[0].Last)
	assert.Len(t, pdus[1].Values[0].Data, 500000)
}

func TestFragmentCommandOnly(t *testing.T) {
	command := EncodeCommand(&types.Message{
		CommandField:       types.CEchoRQ,
		MessageID:          1,
		CommandDataSetType: types.NoDataSet,
	})

	pdus, err := FragmentMessage(1, command, nil, 16384)
	require.NoError(t, err)
	require.Len(t, pdus, 1)

	msg := reassemble(t, pdus)
	assert.Nil(t, msg.Data)
	assert.False(t, msg.Command.HasDataSet())
}

func TestFragmentRejectsTinyMaxPDU(t *testing.T) {
	_, err := FragmentMessage(1, []byte{0x00}, nil, 6)
	assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)

	_, err = FragmentMessage(1, nil, nil, 16384)
	assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)
}

func TestAssemblerRejectsDataBeforeCommand(t *testing.T) {
	var assembler Assembler
	_, err := assembler.Add(pdu.PresentationDataValue{ContextID: 1, Command: false, Last: true, Data: []byte{0x00}})
	assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)
}

func TestAssemblerRejectsContextIDChange(t *testing.T) {
	command := EncodeCommand(&types.Message{
		CommandField:       types.CStoreRQ,
		MessageID:          1,
		CommandDataSetType: types.DataSetPresent,
	})

	var assembler Assembler
	_, err := assembler.Add(pdu.PresentationDataValue{ContextID: 1, Command: true, Last: true, Data: command})
	require.NoError(t, err)

	_, err = assembler.Add(pdu.PresentationDataValue{ContextID: 3, Command: false, Last: true, Data: []byte{0x00}})
	assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)
}

type recordedMessage struct {
	contextID byte
	command   *types.Message
	data      []byte
}

type fakeTransport struct {
	sent     []recordedMessage
	contexts map[string]byte
}

func (f *fakeTransport) SendMessage(contextID byte, command *types.Message, data []byte) error {
	f.sent = append(f.sent, recordedMessage{contextID: contextID, command: command, data: data})
	return nil
}

func (f *fakeTransport) ContextIDFor(abstractSyntax string) (byte, error) {
	if id, ok := f.contexts[abstractSyntax]; ok {
		return id, nil
	}
	return 0, dicomerr.ErrNoPresentationCtx
}

type funcHandler func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error)

func (f funcHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return f(ctx, mctx, msg, data)
}

func dispatchMessage(msg *types.Message, data []byte) *Message {
	return &Message{
		ContextID:    1,
		Command:      msg,
		CommandBytes: EncodeCommand(msg),
		Data:         data,
	}
}

func TestDispatchSingleResponse(t *testing.T) {
	transport := &fakeTransport{}
	handler := funcHandler(func(_ context.Context, _ *interfaces.MessageContext, msg *types.Message, _ []byte) (*types.Message, []byte, error) {
		return &types.Message{
			CommandField:              types.CEchoRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			Status:                    types.StatusSuccess,
		}, nil, nil
	})

	service := NewService(handler, nil)
	request := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           5,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  types.NoDataSet,
	}

	err := service.Dispatch(context.Background(), transport, &interfaces.MessageContext{ContextID: 1}, dispatchMessage(request, nil))
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, uint16(types.CEchoRSP), transport.sent[0].command.CommandField)
	assert.Equal(t, uint16(5), transport.sent[0].command.MessageIDBeingRespondedTo)
	assert.Equal(t, uint16(types.NoDataSet), transport.sent[0].command.CommandDataSetType)
}

func TestDispatchHandlerErrorSendsFailure(t *testing.T) {
	transport := &fakeTransport{}
	handler := funcHandler(func(context.Context, *interfaces.MessageContext, *types.Message, []byte) (*types.Message, []byte, error) {
		return nil, nil, errors.New("backend unavailable")
	})

	service := NewService(handler, nil)
	request := &types.Message{
		CommandField:        types.CStoreRQ,
		MessageID:           2,
		AffectedSOPClassUID: types.CTImageStorage,
		CommandDataSetType:  types.NoDataSet,
	}

	err := service.Dispatch(context.Background(), transport, &interfaces.MessageContext{ContextID: 1}, dispatchMessage(request, nil))
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, uint16(types.CStoreRSP), transport.sent[0].command.CommandField)
	assert.Equal(t, uint16(types.StatusProcessingFailure), transport.sent[0].command.Status)
}

func TestDispatchHandlerPanicSendsFailure(t *testing.T) {
	transport := &fakeTransport{}
	handler := funcHandler(func(context.Context, *interfaces.MessageContext, *types.Message, []byte) (*types.Message, []byte, error) {
		panic("handler bug")
	})

	service := NewService(handler, nil)
	request := &types.Message{
		CommandField:       types.CEchoRQ,
		MessageID:          3,
		CommandDataSetType: types.NoDataSet,
	}

	err := service.Dispatch(context.Background(), transport, &interfaces.MessageContext{ContextID: 1}, dispatchMessage(request, nil))
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, uint16(types.StatusProcessingFailure), transport.sent[0].command.Status)
}

type streamingFuncHandler struct {
	funcHandler
	streaming func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error
}

func (s *streamingFuncHandler) HandleDIMSEStreaming(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	return s.streaming(ctx, mctx, msg, data, responder)
}

func TestCancelFlagsInFlightOperation(t *testing.T) {
	transport := &fakeTransport{}
	service := NewService(nil, nil)

	// The handler emits one pending response, then keeps polling the flag
	// the way a multi-response operation does between matches. The cancel
	// arrives from the serving loop's goroutine while it runs.
	firstPending := make(chan struct{})
	handler := &streamingFuncHandler{
		streaming: func(_ context.Context, mctx *interfaces.MessageContext, msg *types.Message, _ []byte, responder interfaces.ResponseSender) error {
			if err := responder.SendResponse(&types.Message{
				CommandField:              types.CFindRSP,
				MessageIDBeingRespondedTo: msg.MessageID,
				Status:                    types.StatusPending,
			}, nil); err != nil {
				return err
			}
			close(firstPending)

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if mctx.Canceled() {
					return responder.SendResponse(&types.Message{
						CommandField:              types.CFindRSP,
						MessageIDBeingRespondedTo: msg.MessageID,
						Status:                    types.StatusCancel,
					}, nil)
				}
				time.Sleep(time.Millisecond)
			}
			return responder.SendResponse(&types.Message{
				CommandField:              types.CFindRSP,
				MessageIDBeingRespondedTo: msg.MessageID,
				Status:                    types.StatusSuccess,
			}, nil)
		},
	}
	service.handler = handler

	request := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           4,
		AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelFind,
		Priority:            types.PriorityMedium,
		CommandDataSetType:  types.NoDataSet,
	}

	done := make(chan error, 1)
	go func() {
		done <- service.Dispatch(context.Background(), transport, &interfaces.MessageContext{ContextID: 1}, dispatchMessage(request, nil))
	}()

	<-firstPending
	service.Cancel(request.MessageID)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("operation did not finish after cancel")
	}

	require.Len(t, transport.sent, 2)
	assert.Equal(t, uint16(types.StatusPending), transport.sent[0].command.Status)
	assert.Equal(t, uint16(types.StatusCancel), transport.sent[1].command.Status)
}

func TestDispatchConsumesCancelRequest(t *testing.T) {
	transport := &fakeTransport{}
	service := NewService(funcHandler(func(context.Context, *interfaces.MessageContext, *types.Message, []byte) (*types.Message, []byte, error) {
		t.Fatal("C-CANCEL must not reach the handler")
		return nil, nil, nil
	}), nil)

	cancel := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: 4,
		CommandDataSetType:        types.NoDataSet,
	}
	err := service.Dispatch(context.Background(), transport, &interfaces.MessageContext{ContextID: 1}, dispatchMessage(cancel, nil))
	require.NoError(t, err)
	assert.Empty(t, transport.sent)
}

func TestResponderSendCStore(t *testing.T) {
	transport := &fakeTransport{contexts: map[string]byte{types.CTImageStorage: 5}}
	responder := &responseSender{transport: transport, contextID: 1}

	err := responder.SendCStore(types.CTImageStorage, "1.2.3.4", []byte{0x01, 0x02})
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, byte(5), transport.sent[0].contextID)
	assert.Equal(t, uint16(types.CStoreRQ), transport.sent[0].command.CommandField)
	assert.Equal(t, "1.2.3.4", transport.sent[0].command.AffectedSOPInstanceUID)

	err = responder.SendCStore(types.MRImageStorage, "1.2.3.5", nil)
	assert.ErrorIs(t, err, dicomerr.ErrNoPresentationCtx)
}
