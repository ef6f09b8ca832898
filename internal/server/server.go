// Package server exposes the catalog over HTTP for the viewer
// frontend.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mrsinham/miraview/internal/catalog"
	"github.com/mrsinham/miraview/internal/util"
)

const apiVersion = "2.0.0"

// Server serves the viewer API from a catalog store. When StaticDir is
// set, the frontend bundle is served from it at the root path.
type Server struct {
	Store     *catalog.Store
	StaticDir string
	Log       zerolog.Logger
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/studies", s.handleStudies).Methods(http.MethodGet)
	r.HandleFunc("/api/studies/{studyID}", s.handleStudy).Methods(http.MethodGet)
	r.HandleFunc("/api/studies/{studyID}/series/{seriesUID}", s.handleSeries).Methods(http.MethodGet)
	r.HandleFunc("/api/image/{studyID}/{seriesUID}/{index}", s.handleImage).Methods(http.MethodGet)
	r.HandleFunc("/api/image-metadata/{studyID}/{seriesUID}/{index}", s.handleImageMetadata).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{combinationID}/{studyDate}", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{combinationID}/{studyDate}", s.handlePutSettings).Methods(http.MethodPut)

	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	} else {
		r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	}

	return withCORS(r)
}

// withCORS lets the frontend dev server, running on a different port,
// call the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type seriesResponse struct {
	SeriesUID         string             `json:"series_uid"`
	SeriesDescription string             `json:"series_description"`
	SeriesNumber      int                `json:"series_number"`
	Modality          string             `json:"modality"`
	InstanceCount     int                `json:"instance_count"`
	Instances         []instanceResponse `json:"instances,omitempty"`
}

type instanceResponse struct {
	ID             int64    `json:"id"`
	InstanceNumber *int     `json:"instance_number"`
	SliceLocation  *float64 `json:"slice_location"`
	FilePath       string   `json:"file_path"`
}

type studyResponse struct {
	StudyID          string           `json:"study_id"`
	StudyInstanceUID string           `json:"study_instance_uid"`
	FolderName       *string          `json:"folder_name"`
	StudyDate        *string          `json:"study_date"`
	ScanType         string           `json:"scan_type"`
	PatientName      *string          `json:"patient_name,omitempty"`
	PatientID        *string          `json:"patient_id,omitempty"`
	Series           []seriesResponse `json:"series"`
	SeriesCount      int              `json:"series_count"`
	TotalInstances   int              `json:"total_instances"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "MiraViewer API",
		"version": apiVersion,
		"source":  "sqlite",
	})
}

// handleStudies lists every study that has at least one exported
// image, newest first, with its series.
func (s *Server) handleStudies(w http.ResponseWriter, r *http.Request) {
	heads, err := s.Store.StudyHeads()
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	studies := []studyResponse{}
	for _, head := range heads {
		series, err := s.Store.SeriesHeads(head.StudyInstanceUID)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if len(series) == 0 {
			continue
		}
		resp := s.buildStudyResponse(head, series, false)
		studies = append(studies, resp)
	}
	s.writeJSON(w, http.StatusOK, studies)
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	head, ok := s.resolveStudy(w, r)
	if !ok {
		return
	}
	series, err := s.Store.SeriesHeads(head.StudyInstanceUID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	resp := s.buildStudyResponse(*head, series, true)
	resp.PatientName = head.PatientName
	resp.PatientID = head.PatientID
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildStudyResponse(head catalog.StudyHead, series []catalog.SeriesHead, withInstances bool) studyResponse {
	resp := studyResponse{
		StudyID:          util.ShortStudyID(head.StudyInstanceUID),
		StudyInstanceUID: head.StudyInstanceUID,
		FolderName:       head.StudyFolder,
		ScanType:         scanType(head),
		Series:           []seriesResponse{},
	}
	if head.StudyDate != nil {
		iso := util.StudyDateISO(*head.StudyDate)
		resp.StudyDate = &iso
	}
	for _, sh := range series {
		sr := seriesResponse{
			SeriesUID:         sh.SeriesInstanceUID,
			SeriesDescription: strDefault(sh.SeriesDescription, "Unknown Series"),
			SeriesNumber:      intDefault(sh.SeriesNumber, 0),
			Modality:          strDefault(sh.Modality, "MR"),
			InstanceCount:     sh.InstanceCount,
		}
		if withInstances {
			refs, err := s.Store.InstanceRefs(sh.SeriesInstanceUID)
			if err == nil {
				sr.Instances = instanceResponses(refs)
				sr.InstanceCount = len(refs)
			}
		}
		resp.Series = append(resp.Series, sr)
		resp.TotalInstances += sr.InstanceCount
	}
	resp.SeriesCount = len(resp.Series)
	return resp
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	seriesUID := mux.Vars(r)["seriesUID"]
	head, err := s.Store.SeriesHeadByUID(seriesUID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.notFound(w, "Series not found")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	refs, err := s.Store.InstanceRefs(seriesUID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seriesResponse{
		SeriesUID:         head.SeriesInstanceUID,
		SeriesDescription: strDefault(head.SeriesDescription, "Unknown Series"),
		SeriesNumber:      intDefault(head.SeriesNumber, 0),
		Modality:          strDefault(head.Modality, "MR"),
		InstanceCount:     len(refs),
		Instances:         instanceResponses(refs),
	})
}

// handleImage streams the exported PNG at the given position in the
// series ordering.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		s.notFound(w, "Image not found")
		return
	}
	refs, err := s.Store.InstanceRefs(vars["seriesUID"])
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if index < 0 || index >= len(refs) {
		s.notFound(w, "Image not found")
		return
	}
	path := refs[index].ImagePath
	if _, err := os.Stat(path); err != nil {
		s.notFound(w, "Image file not found: "+path)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=86400")
	http.ServeFile(w, r, path)
}

func (s *Server) handleImageMetadata(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		s.notFound(w, "Image not found")
		return
	}
	rows, err := s.Store.ExportedRows(vars["seriesUID"])
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if index < 0 || index >= len(rows) {
		s.notFound(w, "Image not found")
		return
	}
	row := rows[index]
	s.writeJSON(w, http.StatusOK, map[string]any{
		"series_uid":              row.SeriesInstanceUID,
		"series_description":      row.SeriesDescription,
		"series_number":           row.SeriesNumber,
		"instance_number":         row.InstanceNumber,
		"slice_location":          row.SliceLocation,
		"rows":                    row.Rows,
		"columns":                 row.Columns,
		"patient_name":            row.PatientName,
		"study_date":              row.StudyDate,
		"modality":                row.Modality,
		"window_center":           row.WindowCenter,
		"window_width":            row.WindowWidth,
		"slice_thickness":         row.SliceThickness,
		"pixel_spacing":           row.PixelSpacing,
		"manufacturer":            row.Manufacturer,
		"institution_name":        row.InstitutionName,
		"magnetic_field_strength": row.MagneticFieldStrength,
		"repetition_time":         row.RepetitionTime,
		"echo_time":               row.EchoTime,
		"flip_angle":              row.FlipAngle,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.Store.CountTotals()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"total_images":    totals.Images,
		"exported_images": totals.Exported,
		"total_studies":   totals.Studies,
		"total_series":    totals.Series,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := s.Store.GetSettings(vars["combinationID"], vars["studyDate"])
	if errors.Is(err, catalog.ErrNotFound) {
		s.notFound(w, "Settings not found")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, payload)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid settings payload"})
		return
	}
	if err := s.Store.UpsertSettings(vars["combinationID"], vars["studyDate"], string(body)); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// resolveStudy maps the short study id from the URL back to its study
// instance UID. Responds 404 itself when no study matches.
func (s *Server) resolveStudy(w http.ResponseWriter, r *http.Request) (*catalog.StudyHead, bool) {
	studyID := mux.Vars(r)["studyID"]
	uids, err := s.Store.StudyUIDs()
	if err != nil {
		s.serverError(w, r, err)
		return nil, false
	}
	for _, uid := range uids {
		if util.ShortStudyID(uid) != studyID {
			continue
		}
		head, err := s.Store.StudyHeadByUID(uid)
		if errors.Is(err, catalog.ErrNotFound) {
			break
		}
		if err != nil {
			s.serverError(w, r, err)
			return nil, false
		}
		return head, true
	}
	s.notFound(w, "Study not found")
	return nil, false
}

func instanceResponses(refs []catalog.InstanceRef) []instanceResponse {
	out := make([]instanceResponse, len(refs))
	for i, ref := range refs {
		out[i] = instanceResponse{
			ID:             ref.ID,
			InstanceNumber: ref.InstanceNumber,
			SliceLocation:  ref.SliceLocation,
			FilePath:       ref.ImagePath,
		}
	}
	return out
}

func scanType(head catalog.StudyHead) string {
	if head.StudyDescription != nil && *head.StudyDescription != "" {
		return *head.StudyDescription
	}
	if head.Modality != nil && *head.Modality != "" {
		return *head.Modality
	}
	return "Unknown"
}

func strDefault(p *string, def string) string {
	if p != nil && *p != "" {
		return *p
	}
	return def
}

func intDefault(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) notFound(w http.ResponseWriter, detail string) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{"detail": detail})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
}
