// Package dimse implements the DICOM Message Service Element transport: the
// command set codec (always Implicit VR Little Endian, group 0000), message
// fragmentation into PDV items bounded by the negotiated maximum PDU length,
// reassembly, and SCP-side dispatch with cooperative C-CANCEL.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerr "github.com/radwire/dicomnet/errors"
	"github.com/radwire/dicomnet/types"
)

// Command set element numbers within group 0000 (PS3.7, Section 9.3).
const (
	elemGroupLength               = 0x0000
	elemAffectedSOPClassUID       = 0x0002
	elemRequestedSOPClassUID      = 0x0003
	elemCommandField              = 0x0100
	elemMessageID                 = 0x0110
	elemMessageIDBeingRespondedTo = 0x0120
	elemMoveDestination           = 0x0600
	elemPriority                  = 0x0700
	elemCommandDataSetType        = 0x0800
	elemStatus                    = 0x0900
	elemAffectedSOPInstanceUID    = 0x1000
	elemRequestedSOPInstanceUID   = 0x1001
	elemRemainingSuboperations    = 0x1020
	elemCompletedSuboperations    = 0x1021
	elemFailedSuboperations       = 0x1022
	elemWarningSuboperations      = 0x1023
	elemMoveOriginatorAETitle     = 0x1030
	elemMoveOriginatorMessageID   = 0x1031
)

func appendElementHeader(buf []byte, element uint16, length uint32) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:2], 0x0000)
	binary.LittleEndian.PutUint16(hdr[2:4], element)
	binary.LittleEndian.PutUint32(hdr[4:8], length)
	return append(buf, hdr[:]...)
}

func appendUint16Element(buf []byte, element uint16, value uint16) []byte {
	buf = appendElementHeader(buf, element, 2)
	var v [2]byte
	binary.LittleEndian.PutUint16(v[:], value)
	return append(buf, v[:]...)
}

// appendStringElement pads to even length with the given byte (NUL for
// UIDs, space for AE titles).
func appendStringElement(buf []byte, element uint16, value string, pad byte) []byte {
	if len(value)%2 == 1 {
		value += string(pad)
	}
	buf = appendElementHeader(buf, element, uint32(len(value)))
	return append(buf, value...)
}

// EncodeCommand serializes a command set as Implicit VR Little Endian with a
// leading group length element, elements in ascending tag order.
func EncodeCommand(msg *types.Message) []byte {
	var body []byte

	if msg.AffectedSOPClassUID != "" {
		body = appendStringElement(body, elemAffectedSOPClassUID, msg.AffectedSOPClassUID, 0x00)
	}
	if msg.RequestedSOPClassUID != "" {
		body = appendStringElement(body, elemRequestedSOPClassUID, msg.RequestedSOPClassUID, 0x00)
	}

	body = appendUint16Element(body, elemCommandField, msg.CommandField)

	if msg.IsRequest() && msg.CommandField != types.CCancelRQ {
		body = appendUint16Element(body, elemMessageID, msg.MessageID)
	} else {
		body = appendUint16Element(body, elemMessageIDBeingRespondedTo, msg.MessageIDBeingRespondedTo)
	}

	if msg.MoveDestination != "" {
		body = appendStringElement(body, elemMoveDestination, msg.MoveDestination, ' ')
	}
	if msg.IsRequest() && requestCarriesPriority(msg.CommandField) {
		body = appendUint16Element(body, elemPriority, msg.Priority)
	}

	body = appendUint16Element(body, elemCommandDataSetType, msg.CommandDataSetType)

	if !msg.IsRequest() {
		body = appendUint16Element(body, elemStatus, msg.Status)
	}

	if msg.AffectedSOPInstanceUID != "" {
		body = appendStringElement(body, elemAffectedSOPInstanceUID, msg.AffectedSOPInstanceUID, 0x00)
	}
	if msg.RequestedSOPInstanceUID != "" {
		body = appendStringElement(body, elemRequestedSOPInstanceUID, msg.RequestedSOPInstanceUID, 0x00)
	}
	if msg.NumberOfRemainingSuboperations != nil {
		body = appendUint16Element(body, elemRemainingSuboperations, *msg.NumberOfRemainingSuboperations)
	}
	if msg.NumberOfCompletedSuboperations != nil {
		body = appendUint16Element(body, elemCompletedSuboperations, *msg.NumberOfCompletedSuboperations)
	}
	if msg.NumberOfFailedSuboperations != nil {
		body = appendUint16Element(body, elemFailedSuboperations, *msg.NumberOfFailedSuboperations)
	}
	if msg.NumberOfWarningSuboperations != nil {
		body = appendUint16Element(body, elemWarningSuboperations, *msg.NumberOfWarningSuboperations)
	}
	if msg.MoveOriginatorAETitle != "" {
		body = appendStringElement(body, elemMoveOriginatorAETitle, msg.MoveOriginatorAETitle, ' ')
	}
	if msg.MoveOriginatorMessageID != 0 {
		body = appendUint16Element(body, elemMoveOriginatorMessageID, msg.MoveOriginatorMessageID)
	}

	out := make([]byte, 0, 12+len(body))
	out = appendElementHeader(out, elemGroupLength, 4)
	var groupLen [4]byte
	binary.LittleEndian.PutUint32(groupLen[:], uint32(len(body)))
	out = append(out, groupLen[:]...)
	return append(out, body...)
}

func requestCarriesPriority(command uint16) bool {
	switch command {
	case types.CStoreRQ, types.CFindRQ, types.CGetRQ, types.CMoveRQ:
		return true
	default:
		return false
	}
}

// ParseCommand decodes an Implicit VR Little Endian command set. Unknown
// group 0000 elements are skipped; a missing Command Field element or a
// truncated element is an ErrInvalidMessage.
func ParseCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{}
	sawCommandField := false

	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated element header", dicomerr.ErrInvalidMessage)
		}
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if int(length) > len(data)-offset {
			return nil, fmt.Errorf("%w: element length exceeds command set", dicomerr.ErrInvalidMessage)
		}
		value := data[offset : offset+int(length)]
		offset += int(length)

		if group != 0x0000 {
			return nil, fmt.Errorf("%w: unexpected group 0x%04X in command set", dicomerr.ErrInvalidMessage, group)
		}

		switch element {
		case elemGroupLength:
			// Informational; total is validated by element walking.
		case elemAffectedSOPClassUID:
			msg.AffectedSOPClassUID = trimUIDValue(value)
		case elemRequestedSOPClassUID:
			msg.RequestedSOPClassUID = trimUIDValue(value)
		case elemCommandField:
			v, err := uint16Value(value, "command field")
			if err != nil {
				return nil, err
			}
			msg.CommandField = v
			sawCommandField = true
		case elemMessageID:
			v, err := uint16Value(value, "message id")
			if err != nil {
				return nil, err
			}
			msg.MessageID = v
		case elemMessageIDBeingRespondedTo:
			v, err := uint16Value(value, "message id being responded to")
			if err != nil {
				return nil, err
			}
			msg.MessageIDBeingRespondedTo = v
		case elemMoveDestination:
			msg.MoveDestination = trimUIDValue(value)
		case elemPriority:
			v, err := uint16Value(value, "priority")
			if err != nil {
				return nil, err
			}
			msg.Priority = v
		case elemCommandDataSetType:
			v, err := uint16Value(value, "command data set type")
			if err != nil {
				return nil, err
			}
			msg.CommandDataSetType = v
		case elemStatus:
			v, err := uint16Value(value, "status")
			if err != nil {
				return nil, err
			}
			msg.Status = v
		case elemAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = trimUIDValue(value)
		case elemRequestedSOPInstanceUID:
			msg.RequestedSOPInstanceUID = trimUIDValue(value)
		case elemRemainingSuboperations:
			v, err := uint16Value(value, "remaining sub-operations")
			if err != nil {
				return nil, err
			}
			msg.NumberOfRemainingSuboperations = &v
		case elemCompletedSuboperations:
			v, err := uint16Value(value, "completed sub-operations")
			if err != nil {
				return nil, err
			}
			msg.NumberOfCompletedSuboperations = &v
		case elemFailedSuboperations:
			v, err := uint16Value(value, "failed sub-operations")
			if err != nil {
				return nil, err
			}
			msg.NumberOfFailedSuboperations = &v
		case elemWarningSuboperations:
			v, err := uint16Value(value, "warning sub-operations")
			if err != nil {
				return nil, err
			}
			msg.NumberOfWarningSuboperations = &v
		case elemMoveOriginatorAETitle:
			msg.MoveOriginatorAETitle = trimUIDValue(value)
		case elemMoveOriginatorMessageID:
			v, err := uint16Value(value, "move originator message id")
			if err != nil {
				return nil, err
			}
			msg.MoveOriginatorMessageID = v
		default:
			// Unknown command elements are skipped.
		}
	}

	if !sawCommandField {
		return nil, fmt.Errorf("%w: command set has no Command Field element", dicomerr.ErrInvalidMessage)
	}

	return msg, nil
}

func uint16Value(value []byte, what string) (uint16, error) {
	if len(value) != 2 {
		return 0, fmt.Errorf("%w: %s element has length %d, want 2", dicomerr.ErrInvalidMessage, what, len(value))
	}
	return binary.LittleEndian.Uint16(value), nil
}

func trimUIDValue(value []byte) string {
	s := string(value)
	if idx := strings.IndexByte(s, 0); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
