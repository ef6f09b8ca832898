// Package dicomtest writes small synthetic DICOM instances for tests.
package dicomtest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Instance describes one synthetic instance. String fields left empty
// are omitted from the written stream so absence paths can be tested.
type Instance struct {
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	SeriesInstanceUID string
	SeriesNumber      int
	SeriesDescription string
	SOPInstanceUID    string
	InstanceNumber    int
	Modality          string
	PatientName       string
	PatientID         string

	SliceLocation  string
	WindowCenter   string
	WindowWidth    string
	RescaleSlope   string
	RescaleIntcpt  string
	Photometric    string
	SliceThickness string

	// Rows by Cols 16-bit pixels, row-major. Nil writes no pixel data
	// element.
	Rows   int
	Cols   int
	Pixels []uint16

	// Extra elements appended verbatim.
	Extra []*dicom.Element
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

func appendString(elems []*dicom.Element, t tag.Tag, v string) []*dicom.Element {
	if v == "" {
		return elems
	}
	return append(elems, mustNewElement(t, []string{v}))
}

// Elements builds the dataset element list for inst.
func (inst Instance) Elements() []*dicom.Element {
	elems := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
	}
	elems = appendString(elems, tag.SOPInstanceUID, inst.SOPInstanceUID)
	elems = appendString(elems, tag.StudyInstanceUID, inst.StudyInstanceUID)
	elems = appendString(elems, tag.StudyDate, inst.StudyDate)
	elems = appendString(elems, tag.StudyDescription, inst.StudyDescription)
	elems = appendString(elems, tag.SeriesInstanceUID, inst.SeriesInstanceUID)
	elems = appendString(elems, tag.SeriesDescription, inst.SeriesDescription)
	elems = appendString(elems, tag.Modality, inst.Modality)
	elems = appendString(elems, tag.PatientName, inst.PatientName)
	elems = appendString(elems, tag.PatientID, inst.PatientID)
	elems = appendString(elems, tag.SliceLocation, inst.SliceLocation)
	elems = appendString(elems, tag.WindowCenter, inst.WindowCenter)
	elems = appendString(elems, tag.WindowWidth, inst.WindowWidth)
	elems = appendString(elems, tag.RescaleSlope, inst.RescaleSlope)
	elems = appendString(elems, tag.RescaleIntercept, inst.RescaleIntcpt)
	elems = appendString(elems, tag.PhotometricInterpretation, inst.Photometric)
	elems = appendString(elems, tag.SliceThickness, inst.SliceThickness)
	if inst.SeriesNumber > 0 {
		elems = append(elems, mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", inst.SeriesNumber)}))
	}
	if inst.InstanceNumber > 0 {
		elems = append(elems, mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", inst.InstanceNumber)}))
	}

	if inst.Pixels != nil {
		nativeFrame := frame.NewNativeFrame[uint16](16, inst.Rows, inst.Cols, inst.Rows*inst.Cols, 1)
		copy(nativeFrame.RawData, inst.Pixels)
		elems = append(elems,
			mustNewElement(tag.Rows, []int{inst.Rows}),
			mustNewElement(tag.Columns, []int{inst.Cols}),
			mustNewElement(tag.BitsAllocated, []int{16}),
			mustNewElement(tag.BitsStored, []int{16}),
			mustNewElement(tag.HighBit, []int{15}),
			mustNewElement(tag.PixelRepresentation, []int{0}),
			mustNewElement(tag.SamplesPerPixel, []int{1}),
			mustNewElement(tag.PixelData, dicom.PixelDataInfo{
				Frames: []*frame.Frame{
					{
						Encapsulated: false,
						NativeData:   nativeFrame,
					},
				},
			}),
		)
	}

	return append(elems, inst.Extra...)
}

// WriteFile writes inst as a DICOM file at path, creating parent
// directories.
func WriteFile(path string, inst Instance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	ds := dicom.Dataset{Elements: inst.Elements()}
	if err := dicom.Write(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
