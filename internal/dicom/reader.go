// Package dicom reads DICOM tag streams and projects them into flat,
// typed metadata records for the export pipeline.
package dicom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrMalformedStream indicates an unreadable or truncated tag stream.
// It is file-scoped: the orchestrator counts the file as failed and
// moves on.
var ErrMalformedStream = errors.New("malformed tag stream")

const preambleLength = 128

var magicWord = []byte("DICM")

// LooksLikeDICOM reports whether the file at path starts with the
// standard 128-byte preamble followed by the DICM marker. Used to sniff
// extensionless files during directory scans.
func LooksLikeDICOM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, preambleLength+len(magicWord))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[preambleLength:], magicWord)
}

// AttributeSet exposes the parsed elements of a single instance through
// typed, fallible accessors. Unknown and private tags stay in the
// underlying dataset but are never interpreted.
type AttributeSet struct {
	ds dicom.Dataset
}

// ReadFile parses the tag stream at path. The pixel data element is
// kept as its raw value payload; decoding is the renderer's job. When
// force is true, streams without the preamble and DICM marker are also
// accepted by retrying the parse without the file meta group.
func ReadFile(path string, force bool) (*AttributeSet, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipProcessingPixelDataValue())
	if err != nil && force {
		ds, err = dicom.ParseFile(path, nil,
			dicom.SkipProcessingPixelDataValue(),
			dicom.SkipMetadataReadOnNewParserInit())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedStream, path, err)
	}
	return &AttributeSet{ds: ds}, nil
}

func (a *AttributeSet) find(t tag.Tag) *dicom.Element {
	elem, err := a.ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	return elem
}

// Strings returns the raw string values of t in element order.
func (a *AttributeSet) Strings(t tag.Tag) ([]string, bool) {
	elem := a.find(t)
	if elem == nil {
		return nil, false
	}
	vals, ok := elem.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return nil, false
	}
	return vals, true
}

// String returns the value of t as a single display string. Singleton
// lists unwrap to the bare value; multi-valued elements serialize to a
// bracketed composite so no value is lost. Empty values count as
// absent.
func (a *AttributeSet) String(t tag.Tag) (string, bool) {
	elem := a.find(t)
	if elem == nil {
		return "", false
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return joinValues(v)
	case []int:
		ss := make([]string, len(v))
		for i, n := range v {
			ss[i] = strconv.Itoa(n)
		}
		return joinValues(ss)
	case []float64:
		ss := make([]string, len(v))
		for i, f := range v {
			ss[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return joinValues(ss)
	}
	return "", false
}

func joinValues(vals []string) (string, bool) {
	switch len(vals) {
	case 0:
		return "", false
	case 1:
		s := strings.TrimSpace(vals[0])
		return s, s != ""
	default:
		return "[" + strings.Join(vals, ", ") + "]", true
	}
}

// PersonName returns the value of t normalized to a display string,
// with the caret-separated name components collapsed to spaces.
func (a *AttributeSet) PersonName(t tag.Tag) (string, bool) {
	s, ok := a.String(t)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(strings.ReplaceAll(strings.Trim(s, "^"), "^", " "))
	return s, s != ""
}

// Int returns the first value of t as an int. Integer-string elements
// (VR IS) arrive as strings and are parsed; parse errors count as
// absent rather than failing the file.
func (a *AttributeSet) Int(t tag.Tag) (int, bool) {
	elem := a.find(t)
	if elem == nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(v[0])); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Float returns the first value of t as a float64. Decimal-string
// elements (VR DS) arrive as strings and are parsed; parse errors count
// as absent rather than failing the file.
func (a *AttributeSet) Float(t tag.Tag) (float64, bool) {
	elem := a.find(t)
	if elem == nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []string:
		if len(v) > 0 {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// PixelPayload returns the raw bytes of the pixel data element, or
// false when the instance carries none.
func (a *AttributeSet) PixelPayload() ([]byte, bool) {
	elem := a.find(tag.PixelData)
	if elem == nil {
		return nil, false
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if info.IntentionallyUnprocessed && len(info.UnprocessedValueData) > 0 {
		return info.UnprocessedValueData, true
	}
	return nil, false
}
