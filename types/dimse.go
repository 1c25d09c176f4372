package types

// DIMSE Command Field values (DICOM PS3.7, Section 9.3)
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess              = 0x0000
	StatusCancel               = 0xFE00
	StatusPending              = 0xFF00
	StatusPendingWarning       = 0xFF01
	StatusFailure              = 0xC000
	StatusSOPClassNotSupported = 0x0122
	StatusProcessingFailure    = 0x0110

	// StatusMoveDestinationUnknown refuses a C-MOVE whose destination AE
	// title cannot be resolved to a network address.
	StatusMoveDestinationUnknown = 0xA801
)

// CommandDataSetType values (element 0000,0800)
const (
	// DataSetPresent indicates that data set fragments follow the command set.
	DataSetPresent = 0x0000
	// NoDataSet indicates a command-only message.
	NoDataSet = 0x0101
)

// DIMSE priority values (element 0000,0700)
const (
	PriorityMedium = 0x0000
	PriorityHigh   = 0x0001
	PriorityLow    = 0x0002
)

// Message represents a parsed DIMSE command set.
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	RequestedSOPInstanceUID   string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16

	// MoveDestination carries the AE title of the move destination on a C-MOVE-RQ.
	MoveDestination string
	// MoveOriginator fields identify the requesting AE on a C-STORE-RQ
	// issued as a C-MOVE sub-operation.
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16

	// C-MOVE and C-GET response counters. Pointers distinguish "absent"
	// from an explicit zero on the wire.
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// IsRequest reports whether the command field denotes a request primitive.
func (m *Message) IsRequest() bool {
	return m.CommandField&0x8000 == 0
}

// HasDataSet reports whether the command set announces a following data set.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// IsPending reports whether the status denotes a pending multi-response.
func IsPending(status uint16) bool {
	return status == StatusPending || status == StatusPendingWarning
}

// IsFailure reports whether the status denotes a failed operation.
func IsFailure(status uint16) bool {
	return status&0xF000 == 0xC000 || status&0xF000 == 0xA000
}

// ResponseCommandFor maps a DIMSE request command to its response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}
