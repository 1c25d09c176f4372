package pdu

import (
	"encoding/binary"
	"strings"

	dicomerr "github.com/radwire/dicomnet/errors"
)

// Variable item type bytes (PS3.8, Section 9.3 and PS3.7, Annex D)
const (
	ItemApplicationContext        = 0x10
	ItemPresentationContextRQ     = 0x20
	ItemPresentationContextAC     = 0x21
	ItemAbstractSyntax            = 0x30
	ItemTransferSyntax            = 0x40
	ItemUserInformation           = 0x50
	ItemMaximumLength             = 0x51
	ItemImplementationClassUID    = 0x52
	ItemAsyncOperationsWindow     = 0x53
	ItemRoleSelection             = 0x54
	ItemImplementationVersionName = 0x55
	ItemSOPClassExtended          = 0x56
	ItemSOPClassCommonExtended    = 0x57
	ItemUserIdentityRQ            = 0x58
	ItemUserIdentityAC            = 0x59
)

// Presentation context result values (PS3.8, Table 9-18)
const (
	ResultAcceptance                   byte = 0x00
	ResultUserRejection                byte = 0x01
	ResultNoReason                     byte = 0x02
	ResultAbstractSyntaxNotSupported   byte = 0x03
	ResultTransferSyntaxesNotSupported byte = 0x04
)

// cursor walks a PDU body, validating every declared length against the
// bytes that are actually present.
type cursor struct {
	buf     []byte
	off     int
	pduType byte
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) readByte() (byte, error) {
	if c.remaining() < 1 {
		return 0, dicomerr.NewMalformedPDUError(c.pduType, "truncated at offset %d", c.off)
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *cursor) skip(n int) error {
	if c.remaining() < n {
		return dicomerr.NewMalformedPDUError(c.pduType, "truncated at offset %d", c.off)
	}
	c.off += n
	return nil
}

func (c *cursor) readUint16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, dicomerr.NewMalformedPDUError(c.pduType, "truncated at offset %d", c.off)
	}
	v := binary.BigEndian.Uint16(c.buf[c.off : c.off+2])
	c.off += 2
	return v, nil
}

func (c *cursor) readUint32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, dicomerr.NewMalformedPDUError(c.pduType, "truncated at offset %d", c.off)
	}
	v := binary.BigEndian.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, dicomerr.NewMalformedPDUError(c.pduType, "declared length exceeds body at offset %d", c.off)
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// sub carves a sub-cursor over exactly n bytes.
func (c *cursor) sub(n int) (*cursor, error) {
	b, err := c.readBytes(n)
	if err != nil {
		return nil, err
	}
	return &cursor{buf: b, pduType: c.pduType}, nil
}

// readItemHeader reads the {type:1}{reserved:1}{length:2} item header.
func (c *cursor) readItemHeader() (itemType byte, length uint16, err error) {
	if itemType, err = c.readByte(); err != nil {
		return
	}
	if err = c.skip(1); err != nil {
		return
	}
	length, err = c.readUint16()
	return
}

func appendItemHeader(buf []byte, itemType byte, length uint16) []byte {
	buf = append(buf, itemType, 0x00)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], length)
	return append(buf, l[:]...)
}

// appendStringItem appends a UID/text item with a declared length and no
// null termination.
func appendStringItem(buf []byte, itemType byte, value string) []byte {
	buf = appendItemHeader(buf, itemType, uint16(len(value)))
	return append(buf, value...)
}

func trimUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// PresentationContextRQ is a proposed presentation context: one abstract
// syntax and the requestor's transfer syntaxes in preference order.
type PresentationContextRQ struct {
	ContextID        byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

func (p *PresentationContextRQ) appendTo(buf []byte) []byte {
	var body []byte
	body = append(body, p.ContextID, 0x00, 0x00, 0x00)
	body = appendStringItem(body, ItemAbstractSyntax, p.AbstractSyntax)
	for _, ts := range p.TransferSyntaxes {
		body = appendStringItem(body, ItemTransferSyntax, ts)
	}
	buf = appendItemHeader(buf, ItemPresentationContextRQ, uint16(len(body)))
	return append(buf, body...)
}

func decodePresentationContextRQ(c *cursor) (*PresentationContextRQ, error) {
	ctx := &PresentationContextRQ{}
	var err error
	if ctx.ContextID, err = c.readByte(); err != nil {
		return nil, err
	}
	if err = c.skip(3); err != nil {
		return nil, err
	}

	for c.remaining() > 0 {
		itemType, length, err := c.readItemHeader()
		if err != nil {
			return nil, err
		}
		value, err := c.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		switch itemType {
		case ItemAbstractSyntax:
			ctx.AbstractSyntax = trimUID(value)
		case ItemTransferSyntax:
			ctx.TransferSyntaxes = append(ctx.TransferSyntaxes, trimUID(value))
		default:
			return nil, dicomerr.NewMalformedPDUError(c.pduType, "unexpected sub-item 0x%02x in presentation context %d", itemType, ctx.ContextID)
		}
	}

	if ctx.AbstractSyntax == "" {
		return nil, dicomerr.NewMalformedPDUError(c.pduType, "presentation context %d missing abstract syntax", ctx.ContextID)
	}
	if len(ctx.TransferSyntaxes) == 0 {
		return nil, dicomerr.NewMalformedPDUError(c.pduType, "presentation context %d proposes no transfer syntax", ctx.ContextID)
	}
	return ctx, nil
}

// PresentationContextAC is the acceptor's verdict on one proposed context.
// TransferSyntax is set only when Result is ResultAcceptance.
type PresentationContextAC struct {
	ContextID      byte
	Result         byte
	TransferSyntax string
}

func (p *PresentationContextAC) appendTo(buf []byte) []byte {
	var body []byte
	body = append(body, p.ContextID, 0x00, p.Result, 0x00)
	if p.TransferSyntax != "" {
		body = appendStringItem(body, ItemTransferSyntax, p.TransferSyntax)
	}
	buf = appendItemHeader(buf, ItemPresentationContextAC, uint16(len(body)))
	return append(buf, body...)
}

func decodePresentationContextAC(c *cursor) (*PresentationContextAC, error) {
	ctx := &PresentationContextAC{}
	var err error
	if ctx.ContextID, err = c.readByte(); err != nil {
		return nil, err
	}
	if err = c.skip(1); err != nil {
		return nil, err
	}
	if ctx.Result, err = c.readByte(); err != nil {
		return nil, err
	}
	if err = c.skip(1); err != nil {
		return nil, err
	}

	for c.remaining() > 0 {
		itemType, length, err := c.readItemHeader()
		if err != nil {
			return nil, err
		}
		value, err := c.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		if itemType != ItemTransferSyntax {
			return nil, dicomerr.NewMalformedPDUError(c.pduType, "unexpected sub-item 0x%02x in presentation context %d", itemType, ctx.ContextID)
		}
		ctx.TransferSyntax = trimUID(value)
	}

	return ctx, nil
}

// RoleSelection negotiates SCU/SCP roles for one SOP class (PS3.7, D.3.3.4).
type RoleSelection struct {
	SOPClassUID string
	SCURole     byte
	SCPRole     byte
}

func (r *RoleSelection) appendTo(buf []byte) []byte {
	body := make([]byte, 0, 4+len(r.SOPClassUID))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(r.SOPClassUID)))
	body = append(body, l[:]...)
	body = append(body, r.SOPClassUID...)
	body = append(body, r.SCURole, r.SCPRole)
	buf = appendItemHeader(buf, ItemRoleSelection, uint16(len(body)))
	return append(buf, body...)
}

func decodeRoleSelection(c *cursor) (*RoleSelection, error) {
	uidLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	uid, err := c.readBytes(int(uidLen))
	if err != nil {
		return nil, err
	}
	scu, err := c.readByte()
	if err != nil {
		return nil, err
	}
	scp, err := c.readByte()
	if err != nil {
		return nil, err
	}
	return &RoleSelection{SOPClassUID: trimUID(uid), SCURole: scu, SCPRole: scp}, nil
}

// AsyncOperationsWindow negotiates the number of outstanding operations
// (PS3.7, D.3.3.3).
type AsyncOperationsWindow struct {
	MaxOperationsInvoked   uint16
	MaxOperationsPerformed uint16
}

func (a *AsyncOperationsWindow) appendTo(buf []byte) []byte {
	buf = appendItemHeader(buf, ItemAsyncOperationsWindow, 4)
	var v [4]byte
	binary.BigEndian.PutUint16(v[0:2], a.MaxOperationsInvoked)
	binary.BigEndian.PutUint16(v[2:4], a.MaxOperationsPerformed)
	return append(buf, v[:]...)
}

// SOPClassExtended carries service-class-specific application information
// for one SOP class (PS3.7, D.3.3.5).
type SOPClassExtended struct {
	SOPClassUID string
	Info        []byte
}

func (s *SOPClassExtended) appendTo(buf []byte) []byte {
	body := make([]byte, 0, 2+len(s.SOPClassUID)+len(s.Info))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s.SOPClassUID)))
	body = append(body, l[:]...)
	body = append(body, s.SOPClassUID...)
	body = append(body, s.Info...)
	buf = appendItemHeader(buf, ItemSOPClassExtended, uint16(len(body)))
	return append(buf, body...)
}

func decodeSOPClassExtended(c *cursor) (*SOPClassExtended, error) {
	uidLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	uid, err := c.readBytes(int(uidLen))
	if err != nil {
		return nil, err
	}
	info, err := c.readBytes(c.remaining())
	if err != nil {
		return nil, err
	}
	item := &SOPClassExtended{SOPClassUID: trimUID(uid)}
	if len(info) > 0 {
		item.Info = append([]byte(nil), info...)
	}
	return item, nil
}

// SOPClassCommonExtended relates a SOP class to its service class and any
// related general SOP classes (PS3.7, D.3.3.6).
type SOPClassCommonExtended struct {
	SOPClassUID         string
	ServiceClassUID     string
	RelatedSOPClassUIDs []string
}

func (s *SOPClassCommonExtended) appendTo(buf []byte) []byte {
	var related []byte
	for _, uid := range s.RelatedSOPClassUIDs {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(uid)))
		related = append(related, l[:]...)
		related = append(related, uid...)
	}

	var body []byte
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s.SOPClassUID)))
	body = append(body, l[:]...)
	body = append(body, s.SOPClassUID...)
	binary.BigEndian.PutUint16(l[:], uint16(len(s.ServiceClassUID)))
	body = append(body, l[:]...)
	body = append(body, s.ServiceClassUID...)
	binary.BigEndian.PutUint16(l[:], uint16(len(related)))
	body = append(body, l[:]...)
	body = append(body, related...)

	// Common extended items use version 0 in the reserved byte.
	buf = append(buf, ItemSOPClassCommonExtended, 0x00)
	binary.BigEndian.PutUint16(l[:], uint16(len(body)))
	buf = append(buf, l[:]...)
	return append(buf, body...)
}

func decodeSOPClassCommonExtended(c *cursor) (*SOPClassCommonExtended, error) {
	item := &SOPClassCommonExtended{}

	uidLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	uid, err := c.readBytes(int(uidLen))
	if err != nil {
		return nil, err
	}
	item.SOPClassUID = trimUID(uid)

	svcLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	svc, err := c.readBytes(int(svcLen))
	if err != nil {
		return nil, err
	}
	item.ServiceClassUID = trimUID(svc)

	relLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	rel, err := c.sub(int(relLen))
	if err != nil {
		return nil, err
	}
	for rel.remaining() > 0 {
		l, err := rel.readUint16()
		if err != nil {
			return nil, err
		}
		u, err := rel.readBytes(int(l))
		if err != nil {
			return nil, err
		}
		item.RelatedSOPClassUIDs = append(item.RelatedSOPClassUIDs, trimUID(u))
	}

	return item, nil
}

// UserIdentityRQ carries requestor credentials (PS3.7, D.3.3.7).
type UserIdentityRQ struct {
	IdentityType              byte
	PositiveResponseRequested bool
	PrimaryField              []byte
	SecondaryField            []byte
}

// User identity types (PS3.7, Table D.3-14)
const (
	UserIdentityUsername         byte = 1
	UserIdentityUsernamePasscode byte = 2
	UserIdentityKerberos         byte = 3
	UserIdentitySAML             byte = 4
	UserIdentityJWT              byte = 5
)

func (u *UserIdentityRQ) appendTo(buf []byte) []byte {
	posRsp := byte(0)
	if u.PositiveResponseRequested {
		posRsp = 1
	}
	body := []byte{u.IdentityType, posRsp}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(u.PrimaryField)))
	body = append(body, l[:]...)
	body = append(body, u.PrimaryField...)
	binary.BigEndian.PutUint16(l[:], uint16(len(u.SecondaryField)))
	body = append(body, l[:]...)
	body = append(body, u.SecondaryField...)
	buf = appendItemHeader(buf, ItemUserIdentityRQ, uint16(len(body)))
	return append(buf, body...)
}

func decodeUserIdentityRQ(c *cursor) (*UserIdentityRQ, error) {
	item := &UserIdentityRQ{}
	var err error
	if item.IdentityType, err = c.readByte(); err != nil {
		return nil, err
	}
	posRsp, err := c.readByte()
	if err != nil {
		return nil, err
	}
	item.PositiveResponseRequested = posRsp != 0

	primLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	prim, err := c.readBytes(int(primLen))
	if err != nil {
		return nil, err
	}
	if len(prim) > 0 {
		item.PrimaryField = append([]byte(nil), prim...)
	}

	secLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	sec, err := c.readBytes(int(secLen))
	if err != nil {
		return nil, err
	}
	if len(sec) > 0 {
		item.SecondaryField = append([]byte(nil), sec...)
	}

	return item, nil
}

// UserIdentityAC is the server response to a positive-response request.
type UserIdentityAC struct {
	ServerResponse []byte
}

func (u *UserIdentityAC) appendTo(buf []byte) []byte {
	body := make([]byte, 2, 2+len(u.ServerResponse))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(u.ServerResponse)))
	body = append(body, u.ServerResponse...)
	buf = appendItemHeader(buf, ItemUserIdentityAC, uint16(len(body)))
	return append(buf, body...)
}

func decodeUserIdentityAC(c *cursor) (*UserIdentityAC, error) {
	rspLen, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	rsp, err := c.readBytes(int(rspLen))
	if err != nil {
		return nil, err
	}
	item := &UserIdentityAC{}
	if len(rsp) > 0 {
		item.ServerResponse = append([]byte(nil), rsp...)
	}
	return item, nil
}

// UserInformation aggregates every User Information sub-item of an
// A-ASSOCIATE-RQ/AC (PS3.8 9.3.2.3 and PS3.7 Annex D).
type UserInformation struct {
	MaximumLength             uint32
	ImplementationClassUID    string
	ImplementationVersionName string
	AsyncOperationsWindow     *AsyncOperationsWindow
	RoleSelections            []*RoleSelection
	SOPClassExtended          []*SOPClassExtended
	SOPClassCommonExtended    []*SOPClassCommonExtended
	UserIdentityRQ            *UserIdentityRQ
	UserIdentityAC            *UserIdentityAC
}

func (u *UserInformation) appendTo(buf []byte) []byte {
	var body []byte

	body = appendItemHeader(body, ItemMaximumLength, 4)
	var maxLen [4]byte
	binary.BigEndian.PutUint32(maxLen[:], u.MaximumLength)
	body = append(body, maxLen[:]...)

	if u.ImplementationClassUID != "" {
		body = appendStringItem(body, ItemImplementationClassUID, u.ImplementationClassUID)
	}
	if u.ImplementationVersionName != "" {
		body = appendStringItem(body, ItemImplementationVersionName, u.ImplementationVersionName)
	}
	if u.AsyncOperationsWindow != nil {
		body = u.AsyncOperationsWindow.appendTo(body)
	}
	for _, role := range u.RoleSelections {
		body = role.appendTo(body)
	}
	for _, ext := range u.SOPClassExtended {
		body = ext.appendTo(body)
	}
	for _, ext := range u.SOPClassCommonExtended {
		body = ext.appendTo(body)
	}
	if u.UserIdentityRQ != nil {
		body = u.UserIdentityRQ.appendTo(body)
	}
	if u.UserIdentityAC != nil {
		body = u.UserIdentityAC.appendTo(body)
	}

	buf = appendItemHeader(buf, ItemUserInformation, uint16(len(body)))
	return append(buf, body...)
}

func decodeUserInformation(c *cursor) (*UserInformation, error) {
	info := &UserInformation{}

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
		case ItemMaximumLength:
			if length != 4 {
				return nil, dicomerr.NewMalformedPDUError(c.pduType, "maximum length sub-item must be 4 bytes, got %d", length)
			}
			if info.MaximumLength, err = sub.readUint32(); err != nil {
				return nil, err
			}
		case ItemImplementationClassUID:
			info.ImplementationClassUID = trimUID(sub.buf)
		case ItemImplementationVersionName:
			info.ImplementationVersionName = trimUID(sub.buf)
		case ItemAsyncOperationsWindow:
			if length != 4 {
				return nil, dicomerr.NewMalformedPDUError(c.pduType, "async operations window must be 4 bytes, got %d", length)
			}
			window := &AsyncOperationsWindow{}
			if window.MaxOperationsInvoked, err = sub.readUint16(); err != nil {
				return nil, err
			}
			if window.MaxOperationsPerformed, err = sub.readUint16(); err != nil {
				return nil, err
			}
			info.AsyncOperationsWindow = window
		case ItemRoleSelection:
			role, err := decodeRoleSelection(sub)
			if err != nil {
				return nil, err
			}
			info.RoleSelections = append(info.RoleSelections, role)
		case ItemSOPClassExtended:
			ext, err := decodeSOPClassExtended(sub)
			if err != nil {
				return nil, err
			}
			info.SOPClassExtended = append(info.SOPClassExtended, ext)
		case ItemSOPClassCommonExtended:
			ext, err := decodeSOPClassCommonExtended(sub)
			if err != nil {
				return nil, err
			}
			info.SOPClassCommonExtended = append(info.SOPClassCommonExtended, ext)
		case ItemUserIdentityRQ:
			identity, err := decodeUserIdentityRQ(sub)
			if err != nil {
				return nil, err
			}
			info.UserIdentityRQ = identity
		case ItemUserIdentityAC:
			identity, err := decodeUserIdentityAC(sub)
			if err != nil {
				return nil, err
			}
			info.UserIdentityAC = identity
		default:
			return nil, dicomerr.NewMalformedPDUError(c.pduType, "unknown user information sub-item 0x%02x", itemType)
		}
	}

	return info, nil
}
