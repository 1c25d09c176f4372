package types

import (
	"sort"
	"sync"
)

// DICOM Application Context UID.
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service - Image Storage SOP Classes (DICOM Part 4, Annex B)
const (
	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"

	DigitalXRayImageStorageForPresentation            = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing              = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyXRayImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.1.2.1"

	CTImageStorage                        = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                = "1.2.840.10008.5.1.4.1.1.2.1"
	LegacyConvertedEnhancedCTImageStorage = "1.2.840.10008.5.1.4.1.1.2.2"

	UltrasoundMultiFrameImageStorage = "1.2.840.10008.5.1.4.1.1.3.1"
	UltrasoundImageStorage           = "1.2.840.10008.5.1.4.1.1.6.1"
	EnhancedUSVolumeStorage          = "1.2.840.10008.5.1.4.1.1.6.2"

	MRImageStorage                        = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                = "1.2.840.10008.5.1.4.1.1.4.1"
	MRSpectroscopyStorage                 = "1.2.840.10008.5.1.4.1.1.4.2"
	EnhancedMRColorImageStorage           = "1.2.840.10008.5.1.4.1.1.4.3"
	LegacyConvertedEnhancedMRImageStorage = "1.2.840.10008.5.1.4.1.1.4.4"

	NuclearMedicineImageStorage = "1.2.840.10008.5.1.4.1.1.20"

	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameGrayscaleWordSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.3"

	XRayAngiographicImageStorage      = "1.2.840.10008.5.1.4.1.1.12.1"
	EnhancedXAImageStorage            = "1.2.840.10008.5.1.4.1.1.12.1.1"
	XRayRadiofluoroscopicImageStorage = "1.2.840.10008.5.1.4.1.1.12.2"
	EnhancedXRFImageStorage           = "1.2.840.10008.5.1.4.1.1.12.2.1"

	PETImageStorage         = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage = "1.2.840.10008.5.1.4.1.1.130"

	RTImageStorage        = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage         = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage         = "1.2.840.10008.5.1.4.1.1.481.5"

	VLEndoscopicImageStorage           = "1.2.840.10008.5.1.4.1.1.77.1.1"
	VLMicroscopicImageStorage          = "1.2.840.10008.5.1.4.1.1.77.1.2"
	VLPhotographicImageStorage         = "1.2.840.10008.5.1.4.1.1.77.1.4"
	VLWholeSlideMicroscopyImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.6"

	EncapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
	EncapsulatedCDAStorage = "1.2.840.10008.5.1.4.1.1.104.2"
)

// Query/Retrieve Service SOP Classes
const (
	StudyRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.2.3"

	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	PatientStudyOnlyQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.3.1"
	PatientStudyOnlyQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.3.2"
	PatientStudyOnlyQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.3.3"
)

// Worklist Management Service SOP Classes
const (
	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"
)

// SOPClassCategory classifies a SOP class by the service it belongs to.
type SOPClassCategory string

const (
	CategoryVerification  SOPClassCategory = "Verification"
	CategoryStorage       SOPClassCategory = "Storage"
	CategoryQueryRetrieve SOPClassCategory = "Query/Retrieve"
	CategoryWorklist      SOPClassCategory = "Worklist"
	CategoryUnknown       SOPClassCategory = "Unknown"
)

// SOPClassInfo provides human-readable information about a SOP Class UID.
type SOPClassInfo struct {
	UID      string
	Name     string
	Category SOPClassCategory
}

var (
	sopClassMu       sync.RWMutex
	sopClassRegistry = map[string]SOPClassInfo{
		VerificationSOPClass: {VerificationSOPClass, "Verification SOP Class", CategoryVerification},

		ComputedRadiographyImageStorage:                     {ComputedRadiographyImageStorage, "Computed Radiography Image Storage", CategoryStorage},
		DigitalXRayImageStorageForPresentation:              {DigitalXRayImageStorageForPresentation, "Digital X-Ray Image Storage - For Presentation", CategoryStorage},
		DigitalXRayImageStorageForProcessing:                {DigitalXRayImageStorageForProcessing, "Digital X-Ray Image Storage - For Processing", CategoryStorage},
		DigitalMammographyXRayImageStorageForPresentation:   {DigitalMammographyXRayImageStorageForPresentation, "Digital Mammography X-Ray Image Storage - For Presentation", CategoryStorage},
		DigitalMammographyXRayImageStorageForProcessing:     {DigitalMammographyXRayImageStorageForProcessing, "Digital Mammography X-Ray Image Storage - For Processing", CategoryStorage},
		CTImageStorage:                                      {CTImageStorage, "CT Image Storage", CategoryStorage},
		EnhancedCTImageStorage:                              {EnhancedCTImageStorage, "Enhanced CT Image Storage", CategoryStorage},
		LegacyConvertedEnhancedCTImageStorage:               {LegacyConvertedEnhancedCTImageStorage, "Legacy Converted Enhanced CT Image Storage", CategoryStorage},
		UltrasoundMultiFrameImageStorage:                    {UltrasoundMultiFrameImageStorage, "Ultrasound Multi-frame Image Storage", CategoryStorage},
		UltrasoundImageStorage:                              {UltrasoundImageStorage, "Ultrasound Image Storage", CategoryStorage},
		EnhancedUSVolumeStorage:                             {EnhancedUSVolumeStorage, "Enhanced US Volume Storage", CategoryStorage},
		MRImageStorage:                                      {MRImageStorage, "MR Image Storage", CategoryStorage},
		EnhancedMRImageStorage:                              {EnhancedMRImageStorage, "Enhanced MR Image Storage", CategoryStorage},
		MRSpectroscopyStorage:                               {MRSpectroscopyStorage, "MR Spectroscopy Storage", CategoryStorage},
		EnhancedMRColorImageStorage:                         {EnhancedMRColorImageStorage, "Enhanced MR Color Image Storage", CategoryStorage},
		LegacyConvertedEnhancedMRImageStorage:               {LegacyConvertedEnhancedMRImageStorage, "Legacy Converted Enhanced MR Image Storage", CategoryStorage},
		NuclearMedicineImageStorage:                         {NuclearMedicineImageStorage, "Nuclear Medicine Image Storage", CategoryStorage},
		SecondaryCaptureImageStorage:                        {SecondaryCaptureImageStorage, "Secondary Capture Image Storage", CategoryStorage},
		MultiFrameGrayscaleByteSecondaryCaptureImageStorage: {MultiFrameGrayscaleByteSecondaryCaptureImageStorage, "Multi-frame Grayscale Byte Secondary Capture Image Storage", CategoryStorage},
		MultiFrameGrayscaleWordSecondaryCaptureImageStorage: {MultiFrameGrayscaleWordSecondaryCaptureImageStorage, "Multi-frame Grayscale Word Secondary Capture Image Storage", CategoryStorage},
		MultiFrameTrueColorSecondaryCaptureImageStorage:     {MultiFrameTrueColorSecondaryCaptureImageStorage, "Multi-frame True Color Secondary Capture Image Storage", CategoryStorage},
		XRayAngiographicImageStorage:                        {XRayAngiographicImageStorage, "X-Ray Angiographic Image Storage", CategoryStorage},
		EnhancedXAImageStorage:                              {EnhancedXAImageStorage, "Enhanced XA Image Storage", CategoryStorage},
		XRayRadiofluoroscopicImageStorage:                   {XRayRadiofluoroscopicImageStorage, "X-Ray Radiofluoroscopic Image Storage", CategoryStorage},
		EnhancedXRFImageStorage:                             {EnhancedXRFImageStorage, "Enhanced XRF Image Storage", CategoryStorage},
		PETImageStorage:                                     {PETImageStorage, "Positron Emission Tomography Image Storage", CategoryStorage},
		EnhancedPETImageStorage:                             {EnhancedPETImageStorage, "Enhanced PET Image Storage", CategoryStorage},
		RTImageStorage:                                      {RTImageStorage, "RT Image Storage", CategoryStorage},
		RTDoseStorage:                                       {RTDoseStorage, "RT Dose Storage", CategoryStorage},
		RTStructureSetStorage:                               {RTStructureSetStorage, "RT Structure Set Storage", CategoryStorage},
		RTPlanStorage:                                       {RTPlanStorage, "RT Plan Storage", CategoryStorage},
		VLEndoscopicImageStorage:                            {VLEndoscopicImageStorage, "VL Endoscopic Image Storage", CategoryStorage},
		VLMicroscopicImageStorage:                           {VLMicroscopicImageStorage, "VL Microscopic Image Storage", CategoryStorage},
		VLPhotographicImageStorage:                          {VLPhotographicImageStorage, "VL Photographic Image Storage", CategoryStorage},
		VLWholeSlideMicroscopyImageStorage:                  {VLWholeSlideMicroscopyImageStorage, "VL Whole Slide Microscopy Image Storage", CategoryStorage},
		EncapsulatedPDFStorage:                              {EncapsulatedPDFStorage, "Encapsulated PDF Storage", CategoryStorage},
		EncapsulatedCDAStorage:                              {EncapsulatedCDAStorage, "Encapsulated CDA Storage", CategoryStorage},

		StudyRootQueryRetrieveInformationModelFind:        {StudyRootQueryRetrieveInformationModelFind, "Study Root Query/Retrieve Information Model - FIND", CategoryQueryRetrieve},
		StudyRootQueryRetrieveInformationModelMove:        {StudyRootQueryRetrieveInformationModelMove, "Study Root Query/Retrieve Information Model - MOVE", CategoryQueryRetrieve},
		StudyRootQueryRetrieveInformationModelGet:         {StudyRootQueryRetrieveInformationModelGet, "Study Root Query/Retrieve Information Model - GET", CategoryQueryRetrieve},
		PatientRootQueryRetrieveInformationModelFind:      {PatientRootQueryRetrieveInformationModelFind, "Patient Root Query/Retrieve Information Model - FIND", CategoryQueryRetrieve},
		PatientRootQueryRetrieveInformationModelMove:      {PatientRootQueryRetrieveInformationModelMove, "Patient Root Query/Retrieve Information Model - MOVE", CategoryQueryRetrieve},
		PatientRootQueryRetrieveInformationModelGet:       {PatientRootQueryRetrieveInformationModelGet, "Patient Root Query/Retrieve Information Model - GET", CategoryQueryRetrieve},
		PatientStudyOnlyQueryRetrieveInformationModelFind: {PatientStudyOnlyQueryRetrieveInformationModelFind, "Patient/Study Only Query/Retrieve Information Model - FIND", CategoryQueryRetrieve},
		PatientStudyOnlyQueryRetrieveInformationModelMove: {PatientStudyOnlyQueryRetrieveInformationModelMove, "Patient/Study Only Query/Retrieve Information Model - MOVE", CategoryQueryRetrieve},
		PatientStudyOnlyQueryRetrieveInformationModelGet:  {PatientStudyOnlyQueryRetrieveInformationModelGet, "Patient/Study Only Query/Retrieve Information Model - GET", CategoryQueryRetrieve},

		ModalityWorklistInformationModelFind: {ModalityWorklistInformationModelFind, "Modality Worklist Information Model - FIND", CategoryWorklist},
	}
)

// RegisterSOPClass adds a SOP class to the registry. Private or site-specific
// SOP classes must be registered before they can be classified by category.
// Registering an already-known UID replaces the previous entry.
func RegisterSOPClass(info SOPClassInfo) {
	sopClassMu.Lock()
	defer sopClassMu.Unlock()
	sopClassRegistry[info.UID] = info
}

// SOPClassUIDsByCategory returns the registered SOP class UIDs in the given
// category, sorted for deterministic iteration.
func SOPClassUIDsByCategory(category SOPClassCategory) []string {
	sopClassMu.RLock()
	defer sopClassMu.RUnlock()
	var uids []string
	for uid, info := range sopClassRegistry {
		if info.Category == category {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)
	return uids
}

// GetSOPClassInfo returns information about a SOP Class UID. Unknown UIDs
// yield an entry with CategoryUnknown rather than an error.
func GetSOPClassInfo(uid string) SOPClassInfo {
	sopClassMu.RLock()
	defer sopClassMu.RUnlock()
	if info, ok := sopClassRegistry[uid]; ok {
		return info
	}
	return SOPClassInfo{UID: uid, Name: "Unknown", Category: CategoryUnknown}
}

// IsStorageSOPClass returns true if the UID is a registered storage SOP class.
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryStorage
}

// IsQueryRetrieveSOPClass returns true if the UID is a registered query/retrieve SOP class.
func IsQueryRetrieveSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryQueryRetrieve
}
