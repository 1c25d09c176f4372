package interfaces

// Dataset is an opaque decoded data set. The network layer never inspects
// dataset contents; it moves encoded byte streams and defers structure to an
// external DICOM data-model library.
type Dataset any

// DatasetCodec is the boundary to that external library.
type DatasetCodec interface {
	Decode(data []byte, transferSyntaxUID string) (Dataset, error)
	Encode(dataset Dataset, transferSyntaxUID string) ([]byte, error)
}
