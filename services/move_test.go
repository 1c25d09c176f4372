package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radwire/dicomnet/acse"
	"github.com/radwire/dicomnet/client"
	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/types"
)

type staticResolver map[string]string

func (r staticResolver) ResolveMoveDestination(aeTitle string) (string, error) {
	addr, ok := r[aeTitle]
	if !ok {
		return "", fmt.Errorf("unknown destination %q", aeTitle)
	}
	return addr, nil
}

type fakeOutbound struct {
	stored   []*client.CStoreRequest
	status   uint16
	released bool
}

func (f *fakeOutbound) SendCStore(req *client.CStoreRequest) (*client.CStoreResponse, error) {
	f.stored = append(f.stored, req)
	return &client.CStoreResponse{Status: f.status}, nil
}

func (f *fakeOutbound) Release() error {
	f.released = true
	return nil
}

func moveRequest() *types.Message {
	return &types.Message{
		CommandField:        types.CMoveRQ,
		MessageID:           11,
		AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelMove,
		CommandDataSetType:  types.DataSetPresent,
		MoveDestination:     "STORESCP",
	}
}

func newTestMoveService(t *testing.T, instances []MoveInstance, outbound *fakeOutbound) *MoveService {
	t.Helper()
	svc := NewMoveService("MOVESCP",
		staticResolver{"STORESCP": "10.0.0.5:104"},
		func(ctx context.Context, mctx *interfaces.MessageContext, query []byte) ([]MoveInstance, error) {
			return instances, nil
		}, nil)
	svc.dial = func(address, calledAE string, contexts []acse.ProposedContext) (storeSender, error) {
		assert.Equal(t, "10.0.0.5:104", address)
		assert.Equal(t, "STORESCP", calledAE)
		return outbound, nil
	}
	return svc
}

func TestMoveServiceTransfersInstances(t *testing.T) {
	instances := []MoveInstance{
		{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.1", Data: []byte{0x01}},
		{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.2", Data: []byte{0x02}},
		{SOPClassUID: types.MRImageStorage, SOPInstanceUID: "2.1", Data: []byte{0x03}},
	}
	outbound := &fakeOutbound{status: types.StatusSuccess}
	svc := newTestMoveService(t, instances, outbound)

	sender := &collectSender{}
	err := svc.HandleDIMSEStreaming(context.Background(), messageContext(), moveRequest(), []byte{0x08}, sender)
	require.NoError(t, err)

	require.Len(t, outbound.stored, 3)
	assert.True(t, outbound.released)

	// One pending response per sub-operation plus the final.
	require.Len(t, sender.messages, 4)
	for i, rsp := range sender.messages[:3] {
		assert.Equal(t, uint16(types.StatusPending), rsp.Status, "response %d", i)
		require.NotNil(t, rsp.NumberOfRemainingSuboperations)
		assert.Equal(t, uint16(2-i), *rsp.NumberOfRemainingSuboperations)
	}

	final := sender.messages[3]
	assert.Equal(t, uint16(types.StatusSuccess), final.Status)
	require.NotNil(t, final.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(3), *final.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(0), *final.NumberOfFailedSuboperations)
}

func TestMoveServiceUnknownDestination(t *testing.T) {
	svc := NewMoveService("MOVESCP", staticResolver{},
		func(ctx context.Context, mctx *interfaces.MessageContext, query []byte) ([]MoveInstance, error) {
			t.Fatal("query must not run for an unknown destination")
			return nil, nil
		}, nil)

	sender := &collectSender{}
	err := svc.HandleDIMSEStreaming(context.Background(), messageContext(), moveRequest(), nil, sender)
	require.NoError(t, err)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, uint16(types.StatusMoveDestinationUnknown), sender.messages[0].Status)
}

func TestMoveServiceCancellation(t *testing.T) {
	instances := []MoveInstance{
		{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.1", Data: []byte{0x01}},
		{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.2", Data: []byte{0x02}},
		{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.3", Data: []byte{0x03}},
	}
	outbound := &fakeOutbound{status: types.StatusSuccess}
	svc := newTestMoveService(t, instances, outbound)

	// Cancel after the first sub-operation completes.
	mctx := messageContext()
	mctx.Canceled = func() bool { return len(outbound.stored) >= 1 }

	sender := &collectSender{}
	err := svc.HandleDIMSEStreaming(context.Background(), mctx, moveRequest(), nil, sender)
	require.NoError(t, err)

	require.Len(t, outbound.stored, 1)
	final := sender.messages[len(sender.messages)-1]
	assert.Equal(t, uint16(types.StatusCancel), final.Status)
	require.NotNil(t, final.NumberOfRemainingSuboperations)
	assert.Equal(t, uint16(2), *final.NumberOfRemainingSuboperations)
}

func TestMoveServiceStoreContexts(t *testing.T) {
	contexts := storeContextsFor([]MoveInstance{
		{SOPClassUID: types.CTImageStorage},
		{SOPClassUID: types.CTImageStorage},
		{SOPClassUID: types.MRImageStorage},
	})
	require.Len(t, contexts, 2)
	assert.Equal(t, types.CTImageStorage, contexts[0].AbstractSyntax)
	assert.Equal(t, types.MRImageStorage, contexts[1].AbstractSyntax)
}
