package pdu

import (
	"encoding/binary"
	"strings"

	dicomerr "github.com/radwire/dicomnet/errors"
)

// CurrentProtocolVersion is the only Upper Layer protocol version defined.
const CurrentProtocolVersion uint16 = 0x0001

const aeTitleLength = 16

func appendAETitle(buf []byte, title string) ([]byte, error) {
	if len(title) > aeTitleLength {
		return nil, dicomerr.NewMalformedPDUError(0, "AE title %q exceeds 16 bytes", title)
	}
	padded := title + strings.Repeat(" ", aeTitleLength-len(title))
	return append(buf, padded...), nil
}

func trimAETitle(raw []byte) string {
	title := string(raw)
	if idx := strings.IndexByte(title, 0); idx != -1 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}

// AAssociateRQ is an association request (PS3.8, 9.3.2).
type AAssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*PresentationContextRQ
	UserInformation      UserInformation
}

func (p *AAssociateRQ) Type() byte { return TypeAssociateRQ }

func (p *AAssociateRQ) encodePayload() ([]byte, error) {
	if p.ApplicationContext == "" {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateRQ, "application context is required")
	}
	if len(p.PresentationContexts) == 0 {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateRQ, "at least one presentation context is required")
	}

	buf := make([]byte, 0, 256)
	var version [2]byte
	binary.BigEndian.PutUint16(version[:], p.ProtocolVersion)
	buf = append(buf, version[:]...)
	buf = append(buf, 0x00, 0x00)

	var err error
	if buf, err = appendAETitle(buf, p.CalledAETitle); err != nil {
		return nil, err
	}
	if buf, err = appendAETitle(buf, p.CallingAETitle); err != nil {
		return nil, err
	}
	buf = append(buf, make([]byte, 32)...)

	buf = appendStringItem(buf, ItemApplicationContext, p.ApplicationContext)
	for _, ctx := range p.PresentationContexts {
		buf = ctx.appendTo(buf)
	}
	buf = p.UserInformation.appendTo(buf)

	return buf, nil
}

func decodeAssociateRQ(body []byte) (PDU, error) {
	fixed, c, err := decodeAssociateFixedFields(TypeAssociateRQ, body)
	if err != nil {
		return nil, err
	}

	rq := &AAssociateRQ{
		ProtocolVersion: fixed.version,
		CalledAETitle:   fixed.calledAE,
		CallingAETitle:  fixed.callingAE,
	}

	for c.remaining() > 0 {
		itemType, length, err := c.readItemHeader()
		if err != nil {
			return nil, err
		}
		sub, err := c.sub(int(length))
		if err != nil {
			return nil, err
		}

		switch itemType {
		case ItemApplicationContext:
			rq.ApplicationContext = trimUID(sub.buf)
		case ItemPresentationContextRQ:
			ctx, err := decodePresentationContextRQ(sub)
			if err != nil {
				return nil, err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, ctx)
		case ItemUserInformation:
			info, err := decodeUserInformation(sub)
			if err != nil {
				return nil, err
			}
			rq.UserInformation = *info
		default:
			return nil, dicomerr.NewMalformedPDUError(TypeAssociateRQ, "unknown item type 0x%02x", itemType)
		}
	}

	if rq.ApplicationContext == "" {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateRQ, "missing application context item")
	}
	if len(rq.PresentationContexts) == 0 {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateRQ, "missing presentation context items")
	}

	return rq, nil
}

// AAssociateAC is an association acceptance (PS3.8, 9.3.3). It mirrors the
// request layout; the AE title fields echo the request and must be ignored
// by the receiver.
type AAssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*PresentationContextAC
	UserInformation      UserInformation
}

func (p *AAssociateAC) Type() byte { return TypeAssociateAC }

func (p *AAssociateAC) encodePayload() ([]byte, error) {
	if p.ApplicationContext == "" {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateAC, "application context is required")
	}

	buf := make([]byte, 0, 256)
	var version [2]byte
	binary.BigEndian.PutUint16(version[:], p.ProtocolVersion)
	buf = append(buf, version[:]...)
	buf = append(buf, 0x00, 0x00)

	var err error
	if buf, err = appendAETitle(buf, p.CalledAETitle); err != nil {
		return nil, err
	}
	if buf, err = appendAETitle(buf, p.CallingAETitle); err != nil {
		return nil, err
	}
	buf = append(buf, make([]byte, 32)...)

	buf = appendStringItem(buf, ItemApplicationContext, p.ApplicationContext)
	for _, ctx := range p.PresentationContexts {
		buf = ctx.appendTo(buf)
	}
	buf = p.UserInformation.appendTo(buf)

	return buf, nil
}

func decodeAssociateAC(body []byte) (PDU, error) {
	fixed, c, err := decodeAssociateFixedFields(TypeAssociateAC, body)
	if err != nil {
		return nil, err
	}

	ac := &AAssociateAC{
		ProtocolVersion: fixed.version,
		CalledAETitle:   fixed.calledAE,
		CallingAETitle:  fixed.callingAE,
	}

	for c.remaining() > 0 {
		itemType, length, err := c.readItemHeader()
		if err != nil {
			return nil, err
		}
		sub, err := c.sub(int(length))
		if err != nil {
			return nil, err
		}

		switch itemType {
		case ItemApplicationContext:
			ac.ApplicationContext = trimUID(sub.buf)
		case ItemPresentationContextAC:
			ctx, err := decodePresentationContextAC(sub)
			if err != nil {
				return nil, err
			}
			ac.PresentationContexts = append(ac.PresentationContexts, ctx)
		case ItemUserInformation:
			info, err := decodeUserInformation(sub)
			if err != nil {
				return nil, err
			}
			ac.UserInformation = *info
		default:
			return nil, dicomerr.NewMalformedPDUError(TypeAssociateAC, "unknown item type 0x%02x", itemType)
		}
	}

	if ac.ApplicationContext == "" {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateAC, "missing application context item")
	}

	return ac, nil
}

type associateFixedFields struct {
	version   uint16
	calledAE  string
	callingAE string
}

// decodeAssociateFixedFields parses the 68-byte fixed prefix shared by
// A-ASSOCIATE-RQ and A-ASSOCIATE-AC and returns a cursor positioned at the
// variable items.
func decodeAssociateFixedFields(pduType byte, body []byte) (associateFixedFields, *cursor, error) {
	var fixed associateFixedFields
	c := &cursor{buf: body, pduType: pduType}

	if c.remaining() < 68 {
		return fixed, nil, dicomerr.NewMalformedPDUError(pduType, "fixed fields require 68 bytes, got %d", c.remaining())
	}

	var err error
	if fixed.version, err = c.readUint16(); err != nil {
		return fixed, nil, err
	}
	if err = c.skip(2); err != nil {
		return fixed, nil, err
	}

	calledAE, err := c.readBytes(aeTitleLength)
	if err != nil {
		return fixed, nil, err
	}
	fixed.calledAE = trimAETitle(calledAE)

	callingAE, err := c.readBytes(aeTitleLength)
	if err != nil {
		return fixed, nil, err
	}
	fixed.callingAE = trimAETitle(callingAE)

	if err = c.skip(32); err != nil {
		return fixed, nil, err
	}

	return fixed, c, nil
}

// AAssociateRJ is an association rejection carrying the standard
// result/source/diagnostic triple (PS3.8, 9.3.4).
type AAssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

func (p *AAssociateRJ) Type() byte { return TypeAssociateRJ }

func (p *AAssociateRJ) encodePayload() ([]byte, error) {
	return []byte{0x00, p.Result, p.Source, p.Reason}, nil
}

func decodeAssociateRJ(body []byte) (PDU, error) {
	if len(body) != 4 {
		return nil, dicomerr.NewMalformedPDUError(TypeAssociateRJ, "body must be 4 bytes, got %d", len(body))
	}
	return &AAssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
}

// AReleaseRQ requests orderly association release (PS3.8, 9.3.6).
type AReleaseRQ struct{}

func (p *AReleaseRQ) Type() byte { return TypeReleaseRQ }

func (p *AReleaseRQ) encodePayload() ([]byte, error) {
	return []byte{0x00, 0x00, 0x00, 0x00}, nil
}

// AReleaseRP confirms an orderly release (PS3.8, 9.3.7).
type AReleaseRP struct{}

func (p *AReleaseRP) Type() byte { return TypeReleaseRP }

func (p *AReleaseRP) encodePayload() ([]byte, error) {
	return []byte{0x00, 0x00, 0x00, 0x00}, nil
}

// AAbort terminates the association immediately (PS3.8, 9.3.8).
type AAbort struct {
	Source byte
	Reason byte
}

func (p *AAbort) Type() byte { return TypeAbort }

func (p *AAbort) encodePayload() ([]byte, error) {
	return []byte{0x00, 0x00, p.Source, p.Reason}, nil
}

func decodeAbort(body []byte) (PDU, error) {
	if len(body) != 4 {
		return nil, dicomerr.NewMalformedPDUError(TypeAbort, "body must be 4 bytes, got %d", len(body))
	}
	return &AAbort{Source: body[2], Reason: body[3]}, nil
}
