package client

import (
	"fmt"

	"github.com/radwire/dicomnet/types"
)

// CFindRequest encapsulates the information required to perform a C-FIND
// query. Dataset carries the query identifier encoded in the negotiated
// transfer syntax.
type CFindRequest struct {
	SOPClassUID string // defaults to Study Root FIND
	Priority    uint16
	Dataset     []byte
}

// CFindResponse represents a single C-FIND response from the SCP. Pending
// responses carry a match in Dataset; the final response has none.
type CFindResponse struct {
	Status    uint16
	MessageID uint16
	Dataset   []byte
}

// SendCFind performs a DICOM C-FIND query and returns all responses in
// order, the final (non-pending) response last.
func (c *Client) SendCFind(req *CFindRequest) ([]*CFindResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-find request cannot be nil")
	}
	if len(req.Dataset) == 0 {
		return nil, fmt.Errorf("c-find request requires a query dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
	}

	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           c.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
		CommandDataSetType:  types.DataSetPresent,
	}

	if _, err := c.send(sopClass, command, req.Dataset); err != nil {
		return nil, err
	}

	var responses []*CFindResponse
	for {
		msg, err := c.receiveResponse(types.CFindRSP)
		if err != nil {
			return responses, err
		}

		responses = append(responses, &CFindResponse{
			Status:    msg.Command.Status,
			MessageID: msg.Command.MessageIDBeingRespondedTo,
			Dataset:   msg.Data,
		})

		if !types.IsPending(msg.Command.Status) {
			return responses, nil
		}
	}
}
