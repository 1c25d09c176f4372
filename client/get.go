package client

import (
	"fmt"

	"github.com/radwire/dicomnet/types"
)

// CGetRequest encapsulates a C-GET operation. The SCP delivers matching
// instances as C-STORE sub-operations on this same association; OnStore is
// invoked for each and its return value becomes the sub-operation's store
// response status.
type CGetRequest struct {
	SOPClassUID string // defaults to Study Root GET
	Priority    uint16
	Dataset     []byte

	// OnStore receives each retrieved instance. When nil, sub-operations
	// are acknowledged with success and the data discarded.
	OnStore func(sopClassUID, sopInstanceUID string, data []byte) uint16
}

// CGetResponse represents a single C-GET response from the SCP.
type CGetResponse struct {
	Status                         uint16
	MessageID                      uint16
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// SendCGet performs a DICOM C-GET retrieval, answering interleaved C-STORE
// sub-operations until the final (non-pending) response arrives.
func (c *Client) SendCGet(req *CGetRequest) ([]*CGetResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-get request cannot be nil")
	}
	if len(req.Dataset) == 0 {
		return nil, fmt.Errorf("c-get request requires a query dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelGet
	}

	command := &types.Message{
		CommandField:        types.CGetRQ,
		MessageID:           c.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
		CommandDataSetType:  types.DataSetPresent,
	}

	if _, err := c.send(sopClass, command, req.Dataset); err != nil {
		return nil, err
	}

	var responses []*CGetResponse
	for {
		msg, err := c.assoc.ReceiveMessage()
		if err != nil {
			return responses, err
		}

		switch msg.Command.CommandField {
		case types.CStoreRQ:
			status := uint16(types.StatusSuccess)
			if req.OnStore != nil {
				status = req.OnStore(msg.Command.AffectedSOPClassUID,
					msg.Command.AffectedSOPInstanceUID, msg.Data)
			}
			rsp := &types.Message{
				CommandField:              types.CStoreRSP,
				MessageIDBeingRespondedTo: msg.Command.MessageID,
				AffectedSOPClassUID:       msg.Command.AffectedSOPClassUID,
				AffectedSOPInstanceUID:    msg.Command.AffectedSOPInstanceUID,
				CommandDataSetType:        types.NoDataSet,
				Status:                    status,
			}
			if err := c.assoc.SendMessage(msg.ContextID, rsp, nil); err != nil {
				return responses, err
			}

		case types.CGetRSP:
			responses = append(responses, &CGetResponse{
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

		default:
			return responses, fmt.Errorf("unexpected command during C-GET: 0x%04x",
				msg.Command.CommandField)
		}
	}
}
