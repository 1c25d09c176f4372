package client

import (
	"fmt"

	"github.com/radwire/dicomnet/types"
)

// SendCCancel sends a C-CANCEL-RQ for a pending C-FIND, C-GET or C-MOVE
// operation. The messageID must match the MessageID of the operation being
// canceled. C-CANCEL has no response of its own; the canceled operation
// answers with a cancel status.
func (c *Client) SendCCancel(messageID uint16, sopClassUID string) error {
	if messageID == 0 {
		return fmt.Errorf("messageID must be non-zero for C-CANCEL")
	}
	if sopClassUID == "" {
		return fmt.Errorf("sopClassUID must be provided for C-CANCEL")
	}

	command := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
		CommandDataSetType:        types.NoDataSet,
	}

	if _, err := c.send(sopClassUID, command, nil); err != nil {
		return err
	}

	c.logger.Debug("C-CANCEL sent", "message_id", messageID, "sop_class", sopClassUID)
	return nil
}
