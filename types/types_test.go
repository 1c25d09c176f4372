package types

import "testing"

func TestGetSOPClassInfo(t *testing.T) {
	tests := []struct {
		name     string
		uid      string
		category SOPClassCategory
	}{
		{"verification", VerificationSOPClass, CategoryVerification},
		{"ct storage", CTImageStorage, CategoryStorage},
		{"study root find", StudyRootQueryRetrieveInformationModelFind, CategoryQueryRetrieve},
		{"modality worklist", ModalityWorklistInformationModelFind, CategoryWorklist},
		{"unknown", "1.2.3.4", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetSOPClassInfo(tt.uid)
			if info.Category != tt.category {
				t.Errorf("GetSOPClassInfo(%s).Category = %s, want %s", tt.uid, info.Category, tt.category)
			}
			if info.UID != tt.uid {
				t.Errorf("GetSOPClassInfo(%s).UID = %s", tt.uid, info.UID)
			}
		})
	}
}

func TestRegisterSOPClass(t *testing.T) {
	privateUID := "1.2.826.0.1.3680043.10.386.999"
	if IsStorageSOPClass(privateUID) {
		t.Fatalf("private UID already registered")
	}

	RegisterSOPClass(SOPClassInfo{UID: privateUID, Name: "Private Storage", Category: CategoryStorage})

	if !IsStorageSOPClass(privateUID) {
		t.Errorf("RegisterSOPClass did not take effect for %s", privateUID)
	}
}

func TestTransferSyntaxPredicates(t *testing.T) {
	if IsCompressed(ImplicitVRLittleEndian) {
		t.Error("Implicit VR LE reported as compressed")
	}
	if !IsCompressed(JPEG2000) {
		t.Error("JPEG 2000 not reported as compressed")
	}
	if IsLossless(JPEGBaseline8Bit) {
		t.Error("JPEG Baseline reported as lossless")
	}
	if !IsRetired(ExplicitVRBigEndian) {
		t.Error("Explicit VR BE not reported as retired")
	}
}

func TestRegisterTransferSyntax(t *testing.T) {
	uid := "1.2.826.0.1.3680043.10.386.998"
	RegisterTransferSyntax(TransferSyntaxInfo{UID: uid, Name: "Private Syntax", IsCompressed: true})
	if !IsCompressed(uid) {
		t.Errorf("RegisterTransferSyntax did not take effect for %s", uid)
	}
}

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		request  uint16
		expected uint16
	}{
		{CStoreRQ, CStoreRSP},
		{CGetRQ, CGetRSP},
		{CFindRQ, CFindRSP},
		{CMoveRQ, CMoveRSP},
		{CEchoRQ, CEchoRSP},
		{0x0042, 0x8042},
	}

	for _, tt := range tests {
		if got := ResponseCommandFor(tt.request); got != tt.expected {
			t.Errorf("ResponseCommandFor(0x%04x) = 0x%04x, want 0x%04x", tt.request, got, tt.expected)
		}
	}
}

func TestMessagePredicates(t *testing.T) {
	req := &Message{CommandField: CFindRQ, CommandDataSetType: DataSetPresent}
	if !req.IsRequest() {
		t.Error("C-FIND-RQ not recognized as request")
	}
	if !req.HasDataSet() {
		t.Error("DataSetPresent not recognized")
	}

	rsp := &Message{CommandField: CFindRSP, CommandDataSetType: NoDataSet}
	if rsp.IsRequest() {
		t.Error("C-FIND-RSP recognized as request")
	}
	if rsp.HasDataSet() {
		t.Error("NoDataSet treated as having a dataset")
	}

	if !IsPending(StatusPending) || !IsPending(StatusPendingWarning) {
		t.Error("pending statuses not recognized")
	}
	if !IsFailure(0xC001) || !IsFailure(0xA700) || IsFailure(StatusSuccess) {
		t.Error("failure status classification wrong")
	}
}
