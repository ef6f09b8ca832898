package export

import (
	"path/filepath"
	"testing"

	"github.com/mrsinham/miraview/internal/dicom"
)

func strp(s string) *string    { return &s }
func intp(n int) *int          { return &n }
func floatp(f float64) *float64 { return &f }

func TestPlanOutputPath(t *testing.T) {
	tests := []struct {
		name     string
		meta     dicom.Metadata
		expected string
	}{
		{
			name: "full metadata",
			meta: dicom.Metadata{
				StudyDate:         strp("20240115"),
				StudyDescription:  strp("BRAIN MRI"),
				SeriesNumber:      intp(4),
				SeriesDescription: strp("AX T2 FLAIR"),
				InstanceNumber:    intp(12),
				SliceLocation:     floatp(-4.25),
			},
			expected: filepath.Join("2024-01-15_BRAIN MRI", "04_AX T2 FLAIR", "0012_loc-4.3.png"),
		},
		{
			name: "no slice location",
			meta: dicom.Metadata{
				StudyDate:         strp("20240115"),
				StudyDescription:  strp("BRAIN MRI"),
				SeriesNumber:      intp(4),
				SeriesDescription: strp("AX T2 FLAIR"),
				InstanceNumber:    intp(12),
			},
			expected: filepath.Join("2024-01-15_BRAIN MRI", "04_AX T2 FLAIR", "0012.png"),
		},
		{
			name:     "everything missing",
			meta:     dicom.Metadata{},
			expected: filepath.Join("unknown_date_study", "00_series", "0000.png"),
		},
		{
			name: "study description falls back to modality",
			meta: dicom.Metadata{
				StudyDate:      strp("20240115"),
				Modality:       strp("MR"),
				InstanceNumber: intp(1),
			},
			expected: filepath.Join("2024-01-15_MR", "00_series", "0001.png"),
		},
		{
			name: "reserved characters sanitized",
			meta: dicom.Metadata{
				StudyDate:         strp("20231201"),
				StudyDescription:  strp("HEAD/NECK"),
				SeriesNumber:      intp(1),
				SeriesDescription: strp("T1: post?"),
				InstanceNumber:    intp(3),
			},
			expected: filepath.Join("2023-12-01_HEAD_NECK", "01_T1_ post_", "0003.png"),
		},
		{
			name: "positive slice location",
			meta: dicom.Metadata{
				StudyDate:         strp("20240115"),
				StudyDescription:  strp("S"),
				SeriesNumber:      intp(2),
				SeriesDescription: strp("D"),
				InstanceNumber:    intp(1),
				SliceLocation:     floatp(12.0),
			},
			expected: filepath.Join("2024-01-15_S", "02_D", "0001_loc12.0.png"),
		},
	}

	for _, tc := range tests {
		result := PlanOutputPath(&tc.meta)
		if result != tc.expected {
			t.Errorf("%s: PlanOutputPath = %q, want %q", tc.name, result, tc.expected)
		}
	}
}

func TestPlanOutputPath_Deterministic(t *testing.T) {
	m := dicom.Metadata{
		StudyDate:         strp("20240115"),
		StudyDescription:  strp("BRAIN"),
		SeriesNumber:      intp(1),
		SeriesDescription: strp("AX"),
		InstanceNumber:    intp(1),
	}
	if PlanOutputPath(&m) != PlanOutputPath(&m) {
		t.Error("same metadata must plan the same path")
	}
}
