package dicom

import (
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Metadata is the flat record extracted from one instance. Optional
// attributes are pointers: absent means absent, never a zero value or
// sentinel string. The db tags match the dicom_images catalog columns.
type Metadata struct {
	SourcePath        string  `db:"source_path"`
	ExportedImagePath *string `db:"exported_jpeg_path"`
	StudyFolder       string  `db:"study_folder"`

	// Study identity
	StudyInstanceUID *string `db:"study_instance_uid"`
	StudyDate        *string `db:"study_date"`
	StudyTime        *string `db:"study_time"`
	StudyDescription *string `db:"study_description"`
	AccessionNumber  *string `db:"accession_number"`

	// Patient identity (may be absent or redacted)
	PatientID        *string `db:"patient_id"`
	PatientName      *string `db:"patient_name"`
	PatientBirthDate *string `db:"patient_birth_date"`
	PatientSex       *string `db:"patient_sex"`
	PatientAge       *string `db:"patient_age"`

	// Series identity
	SeriesInstanceUID *string `db:"series_instance_uid"`
	SeriesNumber      *int    `db:"series_number"`
	SeriesDescription *string `db:"series_description"`
	SeriesDate        *string `db:"series_date"`
	SeriesTime        *string `db:"series_time"`
	Modality          *string `db:"modality"`
	BodyPartExamined  *string `db:"body_part_examined"`

	// Instance identity
	SOPInstanceUID    *string  `db:"sop_instance_uid"`
	InstanceNumber    *int     `db:"instance_number"`
	AcquisitionNumber *int     `db:"acquisition_number"`
	SliceLocation     *float64 `db:"slice_location"`
	SliceThickness    *float64 `db:"slice_thickness"`
	ImagePosition     *string  `db:"image_position_patient"`
	ImageOrientation  *string  `db:"image_orientation_patient"`

	// Raster geometry
	Rows            *int    `db:"rows"`
	Columns         *int    `db:"columns"`
	BitsAllocated   *int    `db:"bits_allocated"`
	BitsStored      *int    `db:"bits_stored"`
	HighBit         *int    `db:"high_bit"`
	PixelSpacing    *string `db:"pixel_spacing"`
	Photometric     *string `db:"photometric_interpretation"`
	SamplesPerPixel *int    `db:"samples_per_pixel"`

	// Calibration
	WindowCenter     *float64 `db:"window_center"`
	WindowWidth      *float64 `db:"window_width"`
	RescaleIntercept *float64 `db:"rescale_intercept"`
	RescaleSlope     *float64 `db:"rescale_slope"`

	// Equipment
	Manufacturer      *string `db:"manufacturer"`
	ManufacturerModel *string `db:"manufacturer_model_name"`
	StationName       *string `db:"station_name"`
	InstitutionName   *string `db:"institution_name"`

	// MR acquisition parameters
	MagneticFieldStrength *float64 `db:"magnetic_field_strength"`
	SequenceName          *string  `db:"sequence_name"`
	ScanningSequence      *string  `db:"scanning_sequence"`
	RepetitionTime        *float64 `db:"repetition_time"`
	EchoTime              *float64 `db:"echo_time"`
	InversionTime         *float64 `db:"inversion_time"`
	FlipAngle             *float64 `db:"flip_angle"`

	// Labels derived from the series description
	Plane        *string `db:"plane"`
	Weighting    *string `db:"weight"`
	SequenceType *string `db:"sequence_type"`
}

// Extract projects a parsed attribute set into a Metadata record.
// Missing attributes stay nil, multi-valued text attributes are kept as
// composites, and window center/width take only their first value.
func Extract(a *AttributeSet, sourcePath, studyFolder string) *Metadata {
	m := &Metadata{
		SourcePath:  sourcePath,
		StudyFolder: studyFolder,
	}

	m.StudyInstanceUID = optString(a, tag.StudyInstanceUID)
	m.StudyDate = optString(a, tag.StudyDate)
	m.StudyTime = optString(a, tag.StudyTime)
	m.StudyDescription = optString(a, tag.StudyDescription)
	m.AccessionNumber = optString(a, tag.AccessionNumber)

	m.PatientID = optString(a, tag.PatientID)
	m.PatientName = optPersonName(a, tag.PatientName)
	m.PatientBirthDate = optString(a, tag.PatientBirthDate)
	m.PatientSex = optString(a, tag.PatientSex)
	m.PatientAge = optString(a, tag.PatientAge)

	m.SeriesInstanceUID = optString(a, tag.SeriesInstanceUID)
	m.SeriesNumber = optInt(a, tag.SeriesNumber)
	m.SeriesDescription = optString(a, tag.SeriesDescription)
	m.SeriesDate = optString(a, tag.SeriesDate)
	m.SeriesTime = optString(a, tag.SeriesTime)
	m.Modality = optString(a, tag.Modality)
	m.BodyPartExamined = optString(a, tag.BodyPartExamined)

	m.SOPInstanceUID = optString(a, tag.SOPInstanceUID)
	m.InstanceNumber = optInt(a, tag.InstanceNumber)
	m.AcquisitionNumber = optInt(a, tag.AcquisitionNumber)
	m.SliceLocation = optFloat(a, tag.SliceLocation)
	m.SliceThickness = optFloat(a, tag.SliceThickness)
	m.ImagePosition = optString(a, tag.ImagePositionPatient)
	m.ImageOrientation = optString(a, tag.ImageOrientationPatient)

	m.Rows = optInt(a, tag.Rows)
	m.Columns = optInt(a, tag.Columns)
	m.BitsAllocated = optInt(a, tag.BitsAllocated)
	m.BitsStored = optInt(a, tag.BitsStored)
	m.HighBit = optInt(a, tag.HighBit)
	m.PixelSpacing = optString(a, tag.PixelSpacing)
	m.Photometric = optString(a, tag.PhotometricInterpretation)
	m.SamplesPerPixel = optInt(a, tag.SamplesPerPixel)

	m.WindowCenter = optFloat(a, tag.WindowCenter)
	m.WindowWidth = optFloat(a, tag.WindowWidth)
	m.RescaleIntercept = optFloat(a, tag.RescaleIntercept)
	m.RescaleSlope = optFloat(a, tag.RescaleSlope)

	m.Manufacturer = optString(a, tag.Manufacturer)
	m.ManufacturerModel = optString(a, tag.ManufacturerModelName)
	m.StationName = optString(a, tag.StationName)
	m.InstitutionName = optString(a, tag.InstitutionName)

	m.MagneticFieldStrength = optFloat(a, tag.MagneticFieldStrength)
	m.SequenceName = optString(a, tag.SequenceName)
	m.ScanningSequence = optString(a, tag.ScanningSequence)
	m.RepetitionTime = optFloat(a, tag.RepetitionTime)
	m.EchoTime = optFloat(a, tag.EchoTime)
	m.InversionTime = optFloat(a, tag.InversionTime)
	m.FlipAngle = optFloat(a, tag.FlipAngle)

	var description string
	if m.SeriesDescription != nil {
		description = *m.SeriesDescription
	}
	m.Plane = ParsePlane(description)
	m.Weighting = ParseWeighting(description)
	m.SequenceType = ParseSequenceType(description)

	return m
}

func optString(a *AttributeSet, t tag.Tag) *string {
	if s, ok := a.String(t); ok {
		return &s
	}
	return nil
}

func optPersonName(a *AttributeSet, t tag.Tag) *string {
	if s, ok := a.PersonName(t); ok {
		return &s
	}
	return nil
}

func optInt(a *AttributeSet, t tag.Tag) *int {
	if n, ok := a.Int(t); ok {
		return &n
	}
	return nil
}

func optFloat(a *AttributeSet, t tag.Tag) *float64 {
	if f, ok := a.Float(t); ok {
		return &f
	}
	return nil
}
