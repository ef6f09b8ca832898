// Package export walks source trees, drives the per-file pipeline and
// keeps the catalog in sync with what was written to disk.
package export

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/mrsinham/miraview/internal/dicom"
	"github.com/mrsinham/miraview/internal/util"
)

// PlanOutputPath derives the deterministic relative output path for one
// instance from its metadata alone:
//
//	{date}_{study}/{NN}_{series}/{NNNN}[_locL.L].png
//
// The study description falls back to the modality and then the
// literal "study"; the series description falls back to "series";
// numbers default to 0, so every instance always gets a path. Two
// instances that agree on every component map to the same path; the
// later write wins.
func PlanOutputPath(m *dicom.Metadata) string {
	date := "unknown_date"
	if m.StudyDate != nil && *m.StudyDate != "" {
		date = util.FormatStudyDate(*m.StudyDate)
	}
	study := firstNonEmpty(m.StudyDescription, m.Modality, "study")
	series := firstNonEmpty(m.SeriesDescription, nil, "series")
	seriesNumber := 0
	if m.SeriesNumber != nil {
		seriesNumber = *m.SeriesNumber
	}
	instanceNumber := 0
	if m.InstanceNumber != nil {
		instanceNumber = *m.InstanceNumber
	}

	studyDir := date + "_" + util.SanitizeName(study)
	seriesDir := fmt.Sprintf("%02d_%s", seriesNumber, util.SanitizeName(series))

	name := fmt.Sprintf("%04d", instanceNumber)
	if m.SliceLocation != nil {
		// Round half away from zero at one decimal, so -4.25 prints as
		// -4.3 rather than the half-to-even -4.2 of %.1f alone.
		loc := math.Round(*m.SliceLocation*10) / 10
		name += fmt.Sprintf("_loc%.1f", loc)
	}

	return filepath.Join(studyDir, seriesDir, name+".png")
}

func firstNonEmpty(a, b *string, def string) string {
	if a != nil && *a != "" {
		return *a
	}
	if b != nil && *b != "" {
		return *b
	}
	return def
}
