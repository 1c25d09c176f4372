package client

import (
	"github.com/radwire/dicomnet/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the
// response status.
func (c *Client) SendCEcho() (*CEchoResponse, error) {
	messageID := c.nextMessageID()

	command := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  types.NoDataSet,
	}

	if _, err := c.send(types.VerificationSOPClass, command, nil); err != nil {
		return nil, err
	}

	msg, err := c.receiveResponse(types.CEchoRSP)
	if err != nil {
		return nil, err
	}

	return &CEchoResponse{
		Status:    msg.Command.Status,
		MessageID: msg.Command.MessageIDBeingRespondedTo,
	}, nil
}
