package types

import "sync"

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian is the default DICOM transfer syntax.
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian is the recommended syntax for general use.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian is retired; included for completeness.
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian applies zlib/deflate on top of explicit VR.
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// JPEG Compression Transfer Syntaxes
const (
	JPEGBaseline8Bit    = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit   = "1.2.840.10008.1.2.4.51"
	JPEGLossless        = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1     = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless      = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless  = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless    = "1.2.840.10008.1.2.4.90"
	JPEG2000            = "1.2.840.10008.1.2.4.91"
	HTJ2KLossless       = "1.2.840.10008.1.2.4.201"
	HTJ2KLosslessRPCL   = "1.2.840.10008.1.2.4.202"
	HTJ2K               = "1.2.840.10008.1.2.4.203"
)

// RLE Compression
const (
	RLELossless = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax.
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

var (
	transferSyntaxMu       sync.RWMutex
	transferSyntaxRegistry = map[string]TransferSyntaxInfo{
		ImplicitVRLittleEndian:         {ImplicitVRLittleEndian, "Implicit VR Little Endian", false, true, false},
		ExplicitVRLittleEndian:         {ExplicitVRLittleEndian, "Explicit VR Little Endian", false, true, false},
		ExplicitVRBigEndian:            {ExplicitVRBigEndian, "Explicit VR Big Endian", false, true, true},
		DeflatedExplicitVRLittleEndian: {DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", true, true, false},
		JPEGBaseline8Bit:               {JPEGBaseline8Bit, "JPEG Baseline (Process 1)", true, false, false},
		JPEGExtended12Bit:              {JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", true, false, false},
		JPEGLossless:                   {JPEGLossless, "JPEG Lossless (Process 14)", true, true, false},
		JPEGLosslessSV1:                {JPEGLosslessSV1, "JPEG Lossless (Process 14, SV1)", true, true, false},
		JPEGLSLossless:                 {JPEGLSLossless, "JPEG-LS Lossless", true, true, false},
		JPEGLSNearLossless:             {JPEGLSNearLossless, "JPEG-LS Near-Lossless", true, false, false},
		JPEG2000Lossless:               {JPEG2000Lossless, "JPEG 2000 (Lossless Only)", true, true, false},
		JPEG2000:                       {JPEG2000, "JPEG 2000", true, false, false},
		HTJ2KLossless:                  {HTJ2KLossless, "High-Throughput JPEG 2000 (Lossless Only)", true, true, false},
		HTJ2KLosslessRPCL:              {HTJ2KLosslessRPCL, "High-Throughput JPEG 2000 RPCL (Lossless Only)", true, true, false},
		HTJ2K:                          {HTJ2K, "High-Throughput JPEG 2000", true, false, false},
		RLELossless:                    {RLELossless, "RLE Lossless", true, true, false},
	}
)

// RegisterTransferSyntax adds a transfer syntax to the registry, replacing
// any existing entry with the same UID.
func RegisterTransferSyntax(info TransferSyntaxInfo) {
	transferSyntaxMu.Lock()
	defer transferSyntaxMu.Unlock()
	transferSyntaxRegistry[info.UID] = info
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown UIDs yield a conservative entry (uncompressed, lossless).
func GetTransferSyntaxInfo(uid string) TransferSyntaxInfo {
	transferSyntaxMu.RLock()
	defer transferSyntaxMu.RUnlock()
	if info, ok := transferSyntaxRegistry[uid]; ok {
		return info
	}
	return TransferSyntaxInfo{UID: uid, Name: "Unknown", IsLossless: true}
}

// IsCompressed returns true if the transfer syntax uses compression.
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsLossless returns true if the transfer syntax preserves pixel data exactly.
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsLossless
}

// IsRetired returns true if the transfer syntax is retired.
func IsRetired(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsRetired
}

// CommonTransferSyntaxes returns the uncompressed syntaxes every
// implementation is expected to handle, in preference order.
func CommonTransferSyntaxes() []string {
	return []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian}
}
