package client

import (
	"fmt"

	"github.com/radwire/dicomnet/types"
)

// CMoveRequest encapsulates a C-MOVE operation. Destination names the AE
// title the SCP must open a separate storage association to.
type CMoveRequest struct {
	SOPClassUID string // defaults to Study Root MOVE
	Destination string
	Priority    uint16
	Dataset     []byte
}

// CMoveResponse represents a single C-MOVE response from the SCP, carrying
// the sub-operation progress counters.
type CMoveResponse struct {
	Status                         uint16
	MessageID                      uint16
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// SendCMove performs a DICOM C-MOVE operation, instructing the SCP to
// transfer matching instances to the destination AE. Responses are returned
// in order, the final (non-pending) response last.
func (c *Client) SendCMove(req *CMoveRequest) ([]*CMoveResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-move request cannot be nil")
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("c-move request requires a destination AE title")
	}
	if len(req.Dataset) == 0 {
		return nil, fmt.Errorf("c-move request requires a query dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
	}

	command := &types.Message{
		CommandField:        types.CMoveRQ,
		MessageID:           c.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
		CommandDataSetType:  types.DataSetPresent,
		MoveDestination:     req.Destination,
	}

	if _, err := c.send(sopClass, command, req.Dataset); err != nil {
		return nil, err
	}

	var responses []*CMoveResponse
	for {
		msg, err := c.receiveResponse(types.CMoveRSP)
		if err != nil {
			return responses, err
		}

		responses = append(responses, &CMoveResponse{
			Status:                         msg.Command.Status,
			MessageID:                      msg.Command.MessageIDBeingRespondedTo,
			NumberOfRemainingSuboperations: msg.Command.NumberOfRemainingSuboperations,
			NumberOfCompletedSuboperations: msg.Command.NumberOfCompletedSuboperations,
			NumberOfFailedSuboperations:    msg.Command.NumberOfFailedSuboperations,
			NumberOfWarningSuboperations:   msg.Command.NumberOfWarningSuboperations,
		})

		if !types.IsPending(msg.Command.Status) {
			return responses, nil
		}
	}
}
