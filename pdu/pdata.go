package pdu

import (
	"encoding/binary"

	dicomerr "github.com/radwire/dicomnet/errors"
)

// PDV message control header flags (PS3.8, Annex E)
const (
	pdvFlagCommand byte = 0x01
	pdvFlagLast    byte = 0x02
)

// PresentationDataValue is one fragment of a command set or data set, tagged
// with the presentation context it belongs to.
type PresentationDataValue struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

func (v *PresentationDataValue) controlHeader() byte {
	var h byte
	if v.Command {
		h |= pdvFlagCommand
	}
	if v.Last {
		h |= pdvFlagLast
	}
	return h
}

// PDataTF carries one or more presentation data values (PS3.8, 9.3.5).
type PDataTF struct {
	Values []PresentationDataValue
}

func (p *PDataTF) Type() byte { return TypePDataTF }

func (p *PDataTF) encodePayload() ([]byte, error) {
	if len(p.Values) == 0 {
		return nil, dicomerr.NewMalformedPDUError(TypePDataTF, "P-DATA-TF requires at least one presentation data value")
	}

	size := 0
	for i := range p.Values {
		size += 4 + 2 + len(p.Values[i].Data)
	}

	buf := make([]byte, 0, size)
	for i := range p.Values {
		v := &p.Values[i]
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(2+len(v.Data)))
		buf = append(buf, length[:]...)
		buf = append(buf, v.ContextID, v.controlHeader())
		buf = append(buf, v.Data...)
	}
	return buf, nil
}

func decodePDataTF(body []byte) (PDU, error) {
	c := &cursor{buf: body, pduType: TypePDataTF}
	tf := &PDataTF{}

	for c.remaining() > 0 {
		length, err := c.readUint32()
		if err != nil {
			return nil, err
		}
		if length < 2 {
			return nil, dicomerr.NewMalformedPDUError(TypePDataTF, "PDV item length %d below minimum of 2", length)
		}
		item, err := c.sub(int(length))
		if err != nil {
			return nil, err
		}

		contextID, err := item.readByte()
		if err != nil {
			return nil, err
		}
		control, err := item.readByte()
		if err != nil {
			return nil, err
		}

		v := PresentationDataValue{
			ContextID: contextID,
			Command:   control&pdvFlagCommand != 0,
			Last:      control&pdvFlagLast != 0,
		}
		if item.remaining() > 0 {
			v.Data = append([]byte(nil), item.buf[item.off:]...)
		}
		tf.Values = append(tf.Values, v)
	}

	if len(tf.Values) == 0 {
		return nil, dicomerr.NewMalformedPDUError(TypePDataTF, "P-DATA-TF carries no presentation data values")
	}
	return tf, nil
}
