package dimse

import (
	"fmt"

	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/pdu"
	"github.com/radwire/dicomnet/types"
)

// pdvOverhead is the per-PDV framing inside a P-DATA-TF body: 4-byte item
// length, context id, control header.
const pdvOverhead = 6

// Message is one reassembled DIMSE message.
type Message struct {
	ContextID byte
	Command   *types.Message
	// CommandBytes is the raw command set as received.
	CommandBytes []byte
	// Data is the raw data set stream, nil for command-only messages.
	Data []byte
}

// FragmentMessage splits a command set and optional data set into P-DATA-TF
// PDUs whose bodies never exceed maxPDU. All command fragments precede all
// data fragments, and the final fragment of each stream carries the last
// fragment bit. maxPDU = 0 means unlimited: each stream travels as a single
// PDV.
func FragmentMessage(contextID byte, command, data []byte, maxPDU uint32) ([]*pdu.PDataTF, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command set", dicomerr.ErrInvalidMessage)
	}
	if maxPDU != 0 && maxPDU <= pdvOverhead {
		return nil, fmt.Errorf("%w: maximum PDU length %d leaves no room for a payload", dicomerr.ErrInvalidMessage, maxPDU)
	}

	chunkSize := len(command) + len(data)
	if maxPDU != 0 {
		chunkSize = int(maxPDU) - pdvOverhead
	}

	var pdus []*pdu.PDataTF
	pdus = appendFragments(pdus, contextID, command, true, chunkSize)
	if len(data) > 0 {
		pdus = appendFragments(pdus, contextID, data, false, chunkSize)
	}
	return pdus, nil
}

// appendFragments emits one PDV per PDU. Combining several PDVs in one PDU
// is legal but single-PDV framing is universally accepted.
func appendFragments(pdus []*pdu.PDataTF, contextID byte, stream []byte, command bool, chunkSize int) []*pdu.PDataTF {
	for offset := 0; ; {
		end := offset + chunkSize
		if end > len(stream) {
			end = len(stream)
		}
		last := end == len(stream)

		chunk := make([]byte, end-offset)
		copy(chunk, stream[offset:end])

		pdus = append(pdus, &pdu.PDataTF{
			Values: []pdu.PresentationDataValue{{
				ContextID: contextID,
				Command:   command,
				Last:      last,
				Data:      chunk,
			}},
		})

		if last {
			return pdus
		}
		offset = end
	}
}

// Assembler reconstructs one DIMSE message from a PDV stream. All command
// fragments must arrive before any data fragment; the command set is parsed
// as soon as its last fragment is seen so the assembler knows whether a data
// set follows.
type Assembler struct {
	contextID   byte
	started     bool
	command     []byte
	commandDone bool
	parsed      *types.Message
	data        []byte
}

// InProgress reports whether a partially assembled message is pending.
func (a *Assembler) InProgress() bool {
	return a.started
}

// Add feeds one PDV. It returns the completed message once the final
// fragment of the final stream has been consumed, nil otherwise.
func (a *Assembler) Add(v pdu.PresentationDataValue) (*Message, error) {
	if !a.started {
		a.contextID = v.ContextID
		a.started = true
	} else if v.ContextID != a.contextID {
		return nil, fmt.Errorf("%w: PDV context id changed from %d to %d mid-message",
			dicomerr.ErrInvalidMessage, a.contextID, v.ContextID)
	}

	if v.Command {
		if a.commandDone {
			return nil, fmt.Errorf("%w: command fragment after command set completed", dicomerr.ErrInvalidMessage)
		}
		a.command = append(a.command, v.Data...)
		if !v.Last {
			return nil, nil
		}

		msg, err := ParseCommand(a.command)
		if err != nil {
			return nil, err
		}
		a.commandDone = true
		a.parsed = msg

		if !msg.HasDataSet() {
			return a.finish(), nil
		}
		return nil, nil
	}

	if !a.commandDone {
		return nil, fmt.Errorf("%w: data fragment before command set completed", dicomerr.ErrInvalidMessage)
	}
	if !a.parsed.HasDataSet() {
		return nil, fmt.Errorf("%w: data fragment on a command-only message", dicomerr.ErrInvalidMessage)
	}

	a.data = append(a.data, v.Data...)
	if v.Last {
		return a.finish(), nil
	}
	return nil, nil
}

func (a *Assembler) finish() *Message {
	msg := &Message{
		ContextID:    a.contextID,
		Command:      a.parsed,
		CommandBytes: a.command,
		Data:         a.data,
	}
	*a = Assembler{}
	return msg
}
