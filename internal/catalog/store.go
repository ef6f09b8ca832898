// Package catalog persists extracted instance metadata in a SQLite
// database and serves the read queries behind the viewer API.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mrsinham/miraview/internal/dicom"
)

const schema = `
CREATE TABLE IF NOT EXISTS dicom_images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path TEXT NOT NULL,
	exported_jpeg_path TEXT,
	study_folder TEXT,

	study_instance_uid TEXT,
	study_date TEXT,
	study_time TEXT,
	study_description TEXT,
	accession_number TEXT,

	patient_id TEXT,
	patient_name TEXT,
	patient_birth_date TEXT,
	patient_sex TEXT,
	patient_age TEXT,

	series_instance_uid TEXT,
	series_number INTEGER,
	series_description TEXT,
	series_date TEXT,
	series_time TEXT,
	modality TEXT,
	body_part_examined TEXT,

	sop_instance_uid TEXT,
	instance_number INTEGER,
	acquisition_number INTEGER,
	slice_location REAL,
	slice_thickness REAL,
	image_position_patient TEXT,
	image_orientation_patient TEXT,

	rows INTEGER,
	columns INTEGER,
	bits_allocated INTEGER,
	bits_stored INTEGER,
	high_bit INTEGER,
	pixel_spacing TEXT,
	photometric_interpretation TEXT,
	samples_per_pixel INTEGER,

	window_center REAL,
	window_width REAL,
	rescale_intercept REAL,
	rescale_slope REAL,

	manufacturer TEXT,
	manufacturer_model_name TEXT,
	station_name TEXT,
	institution_name TEXT,

	magnetic_field_strength REAL,
	sequence_name TEXT,
	scanning_sequence TEXT,
	repetition_time REAL,
	echo_time REAL,
	inversion_time REAL,
	flip_angle REAL,

	plane TEXT,
	weight TEXT,
	sequence_type TEXT,

	created_at TEXT DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_path)
);

CREATE INDEX IF NOT EXISTS idx_study_uid ON dicom_images(study_instance_uid);
CREATE INDEX IF NOT EXISTS idx_series_uid ON dicom_images(series_instance_uid);
CREATE INDEX IF NOT EXISTS idx_patient_id ON dicom_images(patient_id);

CREATE TABLE IF NOT EXISTS viewer_settings (
	combination_id TEXT NOT NULL,
	study_date TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (combination_id, study_date)
);
`

const upsertQuery = `
INSERT OR REPLACE INTO dicom_images (
	source_path, exported_jpeg_path, study_folder,
	study_instance_uid, study_date, study_time, study_description, accession_number,
	patient_id, patient_name, patient_birth_date, patient_sex, patient_age,
	series_instance_uid, series_number, series_description, series_date, series_time,
	modality, body_part_examined,
	sop_instance_uid, instance_number, acquisition_number,
	slice_location, slice_thickness, image_position_patient, image_orientation_patient,
	rows, columns, bits_allocated, bits_stored, high_bit,
	pixel_spacing, photometric_interpretation, samples_per_pixel,
	window_center, window_width, rescale_intercept, rescale_slope,
	manufacturer, manufacturer_model_name, station_name, institution_name,
	magnetic_field_strength, sequence_name, scanning_sequence,
	repetition_time, echo_time, inversion_time, flip_angle,
	plane, weight, sequence_type
) VALUES (
	:source_path, :exported_jpeg_path, :study_folder,
	:study_instance_uid, :study_date, :study_time, :study_description, :accession_number,
	:patient_id, :patient_name, :patient_birth_date, :patient_sex, :patient_age,
	:series_instance_uid, :series_number, :series_description, :series_date, :series_time,
	:modality, :body_part_examined,
	:sop_instance_uid, :instance_number, :acquisition_number,
	:slice_location, :slice_thickness, :image_position_patient, :image_orientation_patient,
	:rows, :columns, :bits_allocated, :bits_stored, :high_bit,
	:pixel_spacing, :photometric_interpretation, :samples_per_pixel,
	:window_center, :window_width, :rescale_intercept, :rescale_slope,
	:manufacturer, :manufacturer_model_name, :station_name, :institution_name,
	:magnetic_field_strength, :sequence_name, :scanning_sequence,
	:repetition_time, :echo_time, :inversion_time, :flip_angle,
	:plane, :weight, :sequence_type
)`

// ErrNotFound is returned by lookups that match no catalog row.
var ErrNotFound = errors.New("catalog: not found")

// Store wraps the SQLite catalog. Writes are serialized through a
// mutex; SQLite handles its own read concurrency.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the catalog database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts the record for m, replacing any earlier row with the
// same source path. Re-running an export therefore refreshes rows
// instead of duplicating them.
func (s *Store) Upsert(m *dicom.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.NamedExec(upsertQuery, m); err != nil {
		return fmt.Errorf("upsert %s: %w", m.SourcePath, err)
	}
	return nil
}

// Row is a full catalog row as stored.
type Row struct {
	ID        int64  `db:"id"`
	CreatedAt string `db:"created_at"`
	dicom.Metadata
}

// StudyHead is the per-study header row. Attribute values are
// aggregated with MAX so one truncated instance cannot blank out a
// field the rest of the study carries.
type StudyHead struct {
	StudyInstanceUID string  `db:"study_instance_uid"`
	StudyDate        *string `db:"study_date"`
	StudyDescription *string `db:"study_description"`
	StudyFolder      *string `db:"study_folder"`
	Modality         *string `db:"modality"`
	PatientName      *string `db:"patient_name"`
	PatientID        *string `db:"patient_id"`
}

// SeriesHead aggregates one series that has at least one exported
// image.
type SeriesHead struct {
	SeriesInstanceUID string  `db:"series_instance_uid"`
	SeriesDescription *string `db:"series_description"`
	SeriesNumber      *int    `db:"series_number"`
	Modality          *string `db:"modality"`
	InstanceCount     int     `db:"instance_count"`
}

// InstanceRef locates one exported image within its series ordering.
type InstanceRef struct {
	ID             int64    `db:"id"`
	InstanceNumber *int     `db:"instance_number"`
	SliceLocation  *float64 `db:"slice_location"`
	ImagePath      string   `db:"exported_jpeg_path"`
}

// StudyHeads lists every study in the catalog, most recent first.
func (s *Store) StudyHeads() ([]StudyHead, error) {
	var out []StudyHead
	err := s.db.Select(&out, `
		SELECT study_instance_uid,
		       MAX(study_date) AS study_date,
		       MAX(study_description) AS study_description,
		       MAX(study_folder) AS study_folder,
		       MAX(modality) AS modality,
		       MAX(patient_name) AS patient_name,
		       MAX(patient_id) AS patient_id
		FROM dicom_images
		WHERE study_instance_uid IS NOT NULL
		GROUP BY study_instance_uid
		ORDER BY study_date DESC`)
	return out, err
}

// StudyHeadByUID fetches the header of a single study, or ErrNotFound.
func (s *Store) StudyHeadByUID(studyUID string) (*StudyHead, error) {
	var head StudyHead
	err := s.db.Get(&head, `
		SELECT study_instance_uid,
		       MAX(study_date) AS study_date,
		       MAX(study_description) AS study_description,
		       MAX(study_folder) AS study_folder,
		       MAX(modality) AS modality,
		       MAX(patient_name) AS patient_name,
		       MAX(patient_id) AS patient_id
		FROM dicom_images
		WHERE study_instance_uid = ?
		GROUP BY study_instance_uid`, studyUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// SeriesHeads lists the exported series of one study, ordered by
// series number.
func (s *Store) SeriesHeads(studyUID string) ([]SeriesHead, error) {
	var out []SeriesHead
	err := s.db.Select(&out, `
		SELECT series_instance_uid,
		       MAX(series_description) AS series_description,
		       MAX(series_number) AS series_number,
		       MAX(modality) AS modality,
		       COUNT(*) AS instance_count
		FROM dicom_images
		WHERE study_instance_uid = ? AND exported_jpeg_path IS NOT NULL
		GROUP BY series_instance_uid
		ORDER BY series_number`, studyUID)
	return out, err
}

// SeriesHeadByUID fetches the header of a single series regardless of
// study, or ErrNotFound.
func (s *Store) SeriesHeadByUID(seriesUID string) (*SeriesHead, error) {
	var head SeriesHead
	err := s.db.Get(&head, `
		SELECT series_instance_uid,
		       MAX(series_description) AS series_description,
		       MAX(series_number) AS series_number,
		       MAX(modality) AS modality,
		       COUNT(*) AS instance_count
		FROM dicom_images
		WHERE series_instance_uid = ?
		GROUP BY series_instance_uid`, seriesUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// InstanceRefs lists the exported images of one series ordered by
// instance number, slice location as tiebreaker. The slice index is
// the instance index used by the image endpoints.
func (s *Store) InstanceRefs(seriesUID string) ([]InstanceRef, error) {
	var out []InstanceRef
	err := s.db.Select(&out, `
		SELECT id, instance_number, slice_location, exported_jpeg_path
		FROM dicom_images
		WHERE series_instance_uid = ? AND exported_jpeg_path IS NOT NULL
		ORDER BY instance_number, slice_location`, seriesUID)
	return out, err
}

// ExportedRows lists the full rows of one series' exported images in
// the same order as InstanceRefs.
func (s *Store) ExportedRows(seriesUID string) ([]Row, error) {
	var out []Row
	err := s.db.Select(&out, `
		SELECT * FROM dicom_images
		WHERE series_instance_uid = ? AND exported_jpeg_path IS NOT NULL
		ORDER BY instance_number, slice_location`, seriesUID)
	return out, err
}

// StudyUIDs lists every distinct study instance UID present.
func (s *Store) StudyUIDs() ([]string, error) {
	var out []string
	err := s.db.Select(&out, `
		SELECT DISTINCT study_instance_uid FROM dicom_images
		WHERE study_instance_uid IS NOT NULL`)
	return out, err
}

// RowBySourcePath fetches the catalog row keyed by its source path.
func (s *Store) RowBySourcePath(path string) (*Row, error) {
	var row Row
	err := s.db.Get(&row, `SELECT * FROM dicom_images WHERE source_path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RowByID fetches a catalog row by its surrogate id.
func (s *Store) RowByID(id int64) (*Row, error) {
	var row Row
	err := s.db.Get(&row, `SELECT * FROM dicom_images WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Totals reports catalog-wide counts for the stats endpoint.
type Totals struct {
	Images   int `db:"images"`
	Exported int `db:"exported"`
	Studies  int `db:"studies"`
	Series   int `db:"series"`
}

// CountTotals computes the catalog-wide totals.
func (s *Store) CountTotals() (*Totals, error) {
	var t Totals
	err := s.db.Get(&t, `
		SELECT COUNT(*) AS images,
		       COUNT(exported_jpeg_path) AS exported,
		       COUNT(DISTINCT study_instance_uid) AS studies,
		       COUNT(DISTINCT series_instance_uid) AS series
		FROM dicom_images`)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
