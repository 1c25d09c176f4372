package client

import (
	"fmt"

	"github.com/radwire/dicomnet/types"
)

// CStoreRequest represents a C-STORE request. Data is the instance encoded
// in the transfer syntax negotiated for the SOP class's context.
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	Priority       uint16
	Data           []byte
}

// CStoreResponse represents a C-STORE response.
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
}

// SendCStore transmits one instance and waits for the store response.
func (c *Client) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-store request cannot be nil")
	}
	if req.SOPClassUID == "" || req.SOPInstanceUID == "" {
		return nil, fmt.Errorf("c-store request requires SOP class and instance UIDs")
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("c-store request requires instance data")
	}

	command := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              c.nextMessageID(),
		AffectedSOPClassUID:    req.SOPClassUID,
		AffectedSOPInstanceUID: req.SOPInstanceUID,
		Priority:               req.Priority,
		CommandDataSetType:     types.DataSetPresent,
	}

	if _, err := c.send(req.SOPClassUID, command, req.Data); err != nil {
		return nil, err
	}

	c.logger.Debug("C-STORE-RQ sent",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data))

	msg, err := c.receiveResponse(types.CStoreRSP)
	if err != nil {
		return nil, err
	}

	return &CStoreResponse{
		Status:         msg.Command.Status,
		MessageID:      msg.Command.MessageIDBeingRespondedTo,
		SOPClassUID:    msg.Command.AffectedSOPClassUID,
		SOPInstanceUID: msg.Command.AffectedSOPInstanceUID,
	}, nil
}
