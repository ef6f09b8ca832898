// Package render converts raw DICOM pixel payloads into calibrated,
// lossless PNG rasters.
package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// ErrNoPixelData reports a structurally valid instance without a
// renderable payload. The orchestrator records it as "not rendered",
// not as a failure.
var ErrNoPixelData = errors.New("no pixel data")

const (
	photoMonochrome1 = "MONOCHROME1"
	photoMonochrome2 = "MONOCHROME2"
)

// Geometry describes the raster layout of a pixel payload.
type Geometry struct {
	Rows            int
	Cols            int
	BitsAllocated   int
	SamplesPerPixel int
	Photometric     string
	// Signed is set when the pixel representation tag declares two's
	// complement samples.
	Signed bool
}

// Calibration holds the per-instance intensity transforms. Nil fields
// mean the attribute was absent; slope defaults to 1 and intercept to 0.
type Calibration struct {
	RescaleSlope     *float64
	RescaleIntercept *float64
	WindowCenter     *float64
	WindowWidth      *float64
}

// Options controls the output raster.
type Options struct {
	// UpscaleFactor resamples the raster to factor times its original
	// size when > 1.
	UpscaleFactor int
	// BitDepth is 8 or 16 and applies to grayscale output only.
	BitDepth int
}

// Render decodes payload, applies the modality and VOI transforms,
// rescales to the target bit depth and writes a PNG to outputPath (the
// extension is forced to .png, parent directories are created). It
// returns the path actually written. No failure escapes this boundary
// as a panic: anything unexpected comes back as an error.
func Render(payload []byte, geom Geometry, calib Calibration, outputPath string, opts Options) (written string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render: %v", r)
		}
	}()

	if len(payload) == 0 {
		return "", ErrNoPixelData
	}
	if opts.BitDepth != 8 {
		opts.BitDepth = 16
	}
	if opts.UpscaleFactor < 1 {
		opts.UpscaleFactor = 1
	}

	samples, err := decodeSamples(payload, geom)
	if err != nil {
		return "", err
	}

	var img image.Image
	switch geom.Photometric {
	case photoMonochrome1, photoMonochrome2, "":
		img = renderGrayscale(samples, geom, calib, opts.BitDepth)
	default:
		img, err = renderColor(samples, geom)
		if err != nil {
			return "", err
		}
	}

	if opts.UpscaleFactor > 1 {
		img = upscale(img, opts.UpscaleFactor)
	}

	written = forcePNGExtension(outputPath)
	if err := os.MkdirAll(filepath.Dir(written), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := writePNG(written, img); err != nil {
		return "", fmt.Errorf("encode %s: %w", written, err)
	}
	return written, nil
}

// decodeSamples expands the little-endian payload into float64 samples
// in row-major order, channels interleaved per pixel.
func decodeSamples(payload []byte, geom Geometry) ([]float64, error) {
	if geom.Rows <= 0 || geom.Cols <= 0 {
		return nil, fmt.Errorf("invalid raster geometry %dx%d", geom.Cols, geom.Rows)
	}
	samplesPerPixel := geom.SamplesPerPixel
	if samplesPerPixel < 1 {
		samplesPerPixel = 1
	}
	n := geom.Rows * geom.Cols * samplesPerPixel

	var want int
	switch geom.BitsAllocated {
	case 8:
		want = n
	case 16:
		want = 2 * n
	default:
		return nil, fmt.Errorf("unsupported bits allocated %d", geom.BitsAllocated)
	}
	if len(payload) < want {
		return nil, fmt.Errorf("pixel payload too short: %d bytes for a %d byte frame (compressed transfer syntax?)", len(payload), want)
	}
	// One trailing byte of even-length padding is fine; anything beyond
	// that means extra frames, which a single-frame raster cannot carry.
	if len(payload) > want+1 {
		return nil, fmt.Errorf("pixel payload holds %d bytes for a %d byte frame (multi-frame instance?)", len(payload), want)
	}

	out := make([]float64, n)
	if geom.BitsAllocated == 8 {
		for i := 0; i < n; i++ {
			if geom.Signed {
				out[i] = float64(int8(payload[i]))
			} else {
				out[i] = float64(payload[i])
			}
		}
		return out, nil
	}
	for i := 0; i < n; i++ {
		v := binary.LittleEndian.Uint16(payload[2*i:])
		if geom.Signed {
			out[i] = float64(int16(v))
		} else {
			out[i] = float64(v)
		}
	}
	return out, nil
}

// renderGrayscale applies the modality transform, VOI windowing and
// the final rescale to the target bit depth. A flat grid produces an
// all-zero raster instead of dividing by zero; MONOCHROME1 output is
// inverted after the rescale.
func renderGrayscale(samples []float64, geom Geometry, calib Calibration, bitDepth int) image.Image {
	stride := geom.SamplesPerPixel
	if stride < 1 {
		stride = 1
	}
	pixels := geom.Rows * geom.Cols

	slope, intercept := 1.0, 0.0
	if calib.RescaleSlope != nil {
		slope = *calib.RescaleSlope
	}
	if calib.RescaleIntercept != nil {
		intercept = *calib.RescaleIntercept
	}

	grid := make([]float64, pixels)
	for p := 0; p < pixels; p++ {
		grid[p] = samples[p*stride]*slope + intercept
	}

	if calib.WindowCenter != nil && calib.WindowWidth != nil && *calib.WindowWidth > 0 {
		lo := *calib.WindowCenter - *calib.WindowWidth/2
		hi := *calib.WindowCenter + *calib.WindowWidth/2
		for p, v := range grid {
			grid[p] = math.Min(math.Max(v, lo), hi)
		}
	}

	// Re-normalize over the grid's own range after windowing. Without a
	// window this degrades to a plain min-max normalization.
	minVal, maxVal := grid[0], grid[0]
	for _, v := range grid {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	maxOut := float64(255)
	if bitDepth == 16 {
		maxOut = 65535
	}
	scale := 0.0
	if maxVal > minVal {
		scale = maxOut / (maxVal - minVal)
	}
	invert := geom.Photometric == photoMonochrome1

	if bitDepth == 16 {
		img := image.NewGray16(image.Rect(0, 0, geom.Cols, geom.Rows))
		for p, v := range grid {
			out := (v - minVal) * scale
			if invert {
				out = maxOut - out
			}
			u := uint16(out + 0.5)
			img.Pix[2*p] = uint8(u >> 8)
			img.Pix[2*p+1] = uint8(u)
		}
		return img
	}

	img := image.NewGray(image.Rect(0, 0, geom.Cols, geom.Rows))
	for p, v := range grid {
		out := (v - minVal) * scale
		if invert {
			out = maxOut - out
		}
		img.Pix[p] = uint8(out + 0.5)
	}
	return img
}

// renderColor casts samples straight to 8-bit with no calibration.
// Three samples per pixel are treated as interleaved RGB.
func renderColor(samples []float64, geom Geometry) (image.Image, error) {
	pixels := geom.Rows * geom.Cols
	rect := image.Rect(0, 0, geom.Cols, geom.Rows)

	switch geom.SamplesPerPixel {
	case 1:
		img := image.NewGray(rect)
		for p := 0; p < pixels; p++ {
			img.Pix[p] = clamp8(samples[p])
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for p := 0; p < pixels; p++ {
			img.Pix[4*p] = clamp8(samples[3*p])
			img.Pix[4*p+1] = clamp8(samples[3*p+1])
			img.Pix[4*p+2] = clamp8(samples[3*p+2])
			img.Pix[4*p+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		for p := 0; p < pixels; p++ {
			img.Pix[4*p] = clamp8(samples[4*p])
			img.Pix[4*p+1] = clamp8(samples[4*p+1])
			img.Pix[4*p+2] = clamp8(samples[4*p+2])
			img.Pix[4*p+3] = clamp8(samples[4*p+3])
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported samples per pixel %d for %s", geom.SamplesPerPixel, geom.Photometric)
	}
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// upscale resamples by the given factor. The 16-bit grayscale path
// goes through x/image's CatmullRom kernel, which preserves Gray16
// depth; 8-bit rasters use the Lanczos filter from the imaging
// package.
func upscale(img image.Image, factor int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx()*factor, bounds.Dy()*factor
	if g16, ok := img.(*image.Gray16); ok {
		dst := image.NewGray16(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), g16, g16.Bounds(), xdraw.Src, nil)
		return dst
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

func forcePNGExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
