package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrsinham/miraview/internal/catalog"
	"github.com/mrsinham/miraview/internal/dicom"
	"github.com/mrsinham/miraview/internal/render"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// allowedExtensions are the file extensions treated as DICOM candidates
// without sniffing the content.
var allowedExtensions = map[string]bool{
	".dcm":   true,
	".dicom": true,
	".ima":   true,
}

// Stats summarizes one export run. Candidates counts every file
// considered (hidden files and archives are dropped before counting);
// Skipped are candidates rejected by the extension filter.
type Stats struct {
	Candidates int
	Processed  int
	Skipped    int
	Failed     int
	Studies    int
	Series     int
}

type candidate struct {
	path        string
	studyFolder string
}

// Exporter drives the ingestion pipeline over one or more input roots.
type Exporter struct {
	Store      *catalog.Store
	OutputRoot string

	// UpscaleFactor and BitDepth are passed through to the renderer.
	UpscaleFactor int
	BitDepth      int

	// ScanAllFiles considers every regular file a candidate regardless
	// of its extension.
	ScanAllFiles bool

	// GroupByTopLevel labels each file with the top-level directory
	// under the scan root instead of the root's own name.
	GroupByTopLevel bool

	// Strict disables the forced retry on streams missing the preamble.
	Strict bool

	// Workers sets the degree of parallelism. Values below 2 run the
	// pipeline sequentially.
	Workers int

	Log zerolog.Logger
}

// Run walks each input root, processes every candidate file and
// returns aggregate counts. The context is consulted between files, so
// cancellation stops the run at a file boundary with the stats
// collected so far.
func (e *Exporter) Run(ctx context.Context, inputs []string) (*Stats, error) {
	var cands []candidate
	stats := &Stats{}
	for _, root := range inputs {
		found, skipped, err := e.collect(root)
		if err != nil {
			return nil, err
		}
		stats.Skipped += skipped
		stats.Candidates += len(found) + skipped
		cands = append(cands, found...)
	}

	acc := &accumulator{
		stats:   stats,
		studies: map[string]bool{},
		series:  map[string]bool{},
	}

	if e.Workers < 2 {
		for _, c := range cands {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			e.processFile(c, acc)
		}
		return stats, nil
	}

	jobs := make(chan candidate)
	var wg sync.WaitGroup
	for i := 0; i < e.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				e.processFile(c, acc)
			}
		}()
	}

	var runErr error
feed:
	for _, c := range cands {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break feed
		case jobs <- c:
		}
	}
	close(jobs)
	wg.Wait()
	return stats, runErr
}

// collect gathers candidate files under root. Hidden files and
// directories and zip archives are dropped before counting; files with
// an unrecognized non-empty extension are counted as skipped unless
// ScanAllFiles is set; extensionless files are sniffed for the DICM
// marker.
func (e *Exporter) collect(root string) ([]candidate, int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		if !e.shouldConsider(root) {
			return nil, 1, nil
		}
		return []candidate{{path: root, studyFolder: filepath.Base(filepath.Dir(root))}}, 0, nil
	}

	var out []candidate
	skipped := 0
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(name), ".zip") {
			return nil
		}
		if !e.shouldConsider(path) {
			skipped++
			return nil
		}
		out = append(out, candidate{path: path, studyFolder: e.studyFolderFor(root, path)})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", root, err)
	}
	return out, skipped, nil
}

func (e *Exporter) shouldConsider(path string) bool {
	if e.ScanAllFiles {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	if allowedExtensions[ext] {
		return true
	}
	if ext == "" {
		return dicom.LooksLikeDICOM(path)
	}
	return false
}

func (e *Exporter) studyFolderFor(root, path string) string {
	if e.GroupByTopLevel {
		rel, err := filepath.Rel(root, path)
		if err == nil {
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) > 1 {
				return parts[0]
			}
		}
	}
	return filepath.Base(root)
}

type accumulator struct {
	mu      sync.Mutex
	stats   *Stats
	studies map[string]bool
	series  map[string]bool
}

// observed records the study and series UIDs as soon as extraction
// yields them, so a file that later fails at the catalog still counts
// toward the study and series totals.
func (a *accumulator) observed(m *dicom.Metadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.StudyInstanceUID != nil && !a.studies[*m.StudyInstanceUID] {
		a.studies[*m.StudyInstanceUID] = true
		a.stats.Studies++
	}
	if m.SeriesInstanceUID != nil && !a.series[*m.SeriesInstanceUID] {
		a.series[*m.SeriesInstanceUID] = true
		a.stats.Series++
	}
}

func (a *accumulator) processed() {
	a.mu.Lock()
	a.stats.Processed++
	a.mu.Unlock()
}

func (a *accumulator) failed() {
	a.mu.Lock()
	a.stats.Failed++
	a.mu.Unlock()
}

// processFile runs the full pipeline for one file. Parse and catalog
// errors count the file as failed; a missing or unrenderable pixel
// payload still catalogs the metadata with a nil image path.
func (e *Exporter) processFile(c candidate, acc *accumulator) {
	log := e.Log.With().Str("file", c.path).Logger()

	attrs, err := dicom.ReadFile(c.path, !e.Strict)
	if err != nil {
		log.Warn().Err(err).Msg("unreadable tag stream")
		acc.failed()
		return
	}

	meta := dicom.Extract(attrs, c.path, c.studyFolder)
	acc.observed(meta)
	relPath := PlanOutputPath(meta)

	if payload, ok := attrs.PixelPayload(); ok {
		written, err := e.renderPayload(attrs, meta, payload, relPath)
		if err != nil {
			if errors.Is(err, render.ErrNoPixelData) {
				log.Debug().Msg("no pixel data")
			} else {
				log.Warn().Err(err).Msg("render failed, cataloging metadata only")
			}
		} else {
			meta.ExportedImagePath = &written
		}
	} else {
		log.Debug().Msg("no pixel data")
	}

	if err := e.Store.Upsert(meta); err != nil {
		log.Error().Err(err).Msg("catalog upsert failed")
		acc.failed()
		return
	}
	acc.processed()
	log.Info().Str("image", strOrEmpty(meta.ExportedImagePath)).Msg("processed")
}

func (e *Exporter) renderPayload(attrs *dicom.AttributeSet, meta *dicom.Metadata, payload []byte, relPath string) (string, error) {
	geom := render.Geometry{
		Rows:            intOr(meta.Rows, 0),
		Cols:            intOr(meta.Columns, 0),
		BitsAllocated:   intOr(meta.BitsAllocated, 16),
		SamplesPerPixel: intOr(meta.SamplesPerPixel, 1),
		Photometric:     strOr(meta.Photometric, "MONOCHROME2"),
	}
	if rep, ok := attrs.Int(tag.PixelRepresentation); ok {
		geom.Signed = rep == 1
	}
	calib := render.Calibration{
		RescaleSlope:     meta.RescaleSlope,
		RescaleIntercept: meta.RescaleIntercept,
		WindowCenter:     meta.WindowCenter,
		WindowWidth:      meta.WindowWidth,
	}
	opts := render.Options{
		UpscaleFactor: e.UpscaleFactor,
		BitDepth:      e.BitDepth,
	}
	return render.Render(payload, geom, calib, filepath.Join(e.OutputRoot, relPath), opts)
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func strOr(p *string, def string) string {
	if p != nil && *p != "" {
		return *p
	}
	return def
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
