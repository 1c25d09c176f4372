// Package pdu implements the DICOM Upper Layer Protocol Data Units
// (PS3.8, Section 9.3): byte-exact encoding and decoding of the seven PDU
// types and their sub-items, plus streaming reads from a network connection.
package pdu

import (
	"encoding/binary"
	"io"

	dicomerr "github.com/radwire/dicomnet/errors"
)

// PDU type bytes
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// headerLength is the fixed PDU header: type, reserved, 4-byte big-endian length.
const headerLength = 6

// DefaultMaxPDULength is the maximum length advertised when the caller does
// not configure one.
const DefaultMaxPDULength uint32 = 16384

// readLimit bounds a single PDU read so a corrupt length field cannot make
// us allocate gigabytes. Association negotiation PDUs are tiny; P-DATA-TF is
// bounded by the negotiated maximum, which is itself far below this.
const readLimit = 1 << 26

// PDU is one frame of the Upper Layer protocol.
type PDU interface {
	// Type returns the PDU type byte.
	Type() byte

	// encodePayload returns the PDU body, everything after the 6-byte header.
	encodePayload() ([]byte, error)
}

// Encode serializes a PDU to its wire image: header plus payload, with the
// declared length equal to the payload length by construction.
func Encode(p PDU) ([]byte, error) {
	payload, err := p.encodePayload()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerLength+len(payload))
	out = append(out, p.Type(), 0x00)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	out = append(out, length[:]...)
	return append(out, payload...), nil
}

// Decode parses a PDU body of the given type. The body must be exactly the
// declared payload; trailing or missing bytes are malformed wire data.
func Decode(pduType byte, body []byte) (PDU, error) {
	switch pduType {
	case TypeAssociateRQ:
		return decodeAssociateRQ(body)
	case TypeAssociateAC:
		return decodeAssociateAC(body)
	case TypeAssociateRJ:
		return decodeAssociateRJ(body)
	case TypePDataTF:
		return decodePDataTF(body)
	case TypeReleaseRQ:
		if len(body) != 4 {
			return nil, dicomerr.NewMalformedPDUError(pduType, "A-RELEASE-RQ body must be 4 bytes, got %d", len(body))
		}
		return &AReleaseRQ{}, nil
	case TypeReleaseRP:
		if len(body) != 4 {
			return nil, dicomerr.NewMalformedPDUError(pduType, "A-RELEASE-RP body must be 4 bytes, got %d", len(body))
		}
		return &AReleaseRP{}, nil
	case TypeAbort:
		return decodeAbort(body)
	default:
		return nil, dicomerr.NewMalformedPDUError(pduType, "unknown PDU type")
	}
}

// ReadPDU reads one complete PDU from r: the 6-byte header first, then
// exactly the declared number of body bytes. io.EOF is returned unwrapped
// when the connection closes cleanly between PDUs.
func ReadPDU(r io.Reader) (PDU, error) {
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, dicomerr.NewNetworkError("read PDU header", err)
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])
	if length > readLimit {
		return nil, dicomerr.NewMalformedPDUError(pduType, "declared length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, dicomerr.NewNetworkError("read PDU body", err)
	}

	return Decode(pduType, body)
}

// WritePDU encodes p and writes its full wire image to w.
func WritePDU(w io.Writer, p PDU) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return dicomerr.NewNetworkError("write PDU", err)
	}
	return nil
}
