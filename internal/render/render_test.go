package render

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func payload16(samples ...uint16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], s)
	}
	return out
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestRender_EmptyPayload(t *testing.T) {
	_, err := Render(nil, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16}, Calibration{},
		filepath.Join(t.TempDir(), "out.png"), Options{})
	if !errors.Is(err, ErrNoPixelData) {
		t.Errorf("err = %v, want ErrNoPixelData", err)
	}
}

func TestRender_MinMaxNormalization(t *testing.T) {
	// 2x2 grid 100..400 renormalizes so min maps to 0 and max to 65535
	payload := payload16(100, 200, 300, 400)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, SamplesPerPixel: 1, Photometric: "MONOCHROME2"},
		Calibration{}, filepath.Join(t.TempDir(), "out.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	img := decodePNG(t, out).(*image.Gray16)
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("min pixel = %d, want 0", img.Gray16At(0, 0).Y)
	}
	if img.Gray16At(1, 1).Y != 65535 {
		t.Errorf("max pixel = %d, want 65535", img.Gray16At(1, 1).Y)
	}
}

func TestRender_FlatGridIsAllZero(t *testing.T) {
	payload := payload16(1000, 1000, 1000, 1000)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{}, filepath.Join(t.TempDir(), "flat.png"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out).(*image.Gray16)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if img.Gray16At(x, y).Y != 0 {
				t.Fatalf("flat grid pixel (%d,%d) = %d, want 0", x, y, img.Gray16At(x, y).Y)
			}
		}
	}
}

func TestRender_WindowClipsRange(t *testing.T) {
	// window [0,100]: values 0 and 50 survive, 500 clips to 100
	payload := payload16(0, 50, 500, 100)
	center, width := 50.0, 100.0
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{WindowCenter: &center, WindowWidth: &width},
		filepath.Join(t.TempDir(), "win.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out).(*image.Gray16)
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("pixel 0 = %d, want 0", img.Gray16At(0, 0).Y)
	}
	// clipped 500 and in-range 100 both land on the window ceiling
	if img.Gray16At(0, 1).Y != 65535 || img.Gray16At(1, 1).Y != 65535 {
		t.Errorf("clipped pixels = %d, %d, want 65535", img.Gray16At(0, 1).Y, img.Gray16At(1, 1).Y)
	}
}

func TestRender_RescaleAppliesBeforeWindow(t *testing.T) {
	// raw 0..3 with slope 100 spans 0..300; window [0,200] clips the top
	payload := payload16(0, 1, 2, 3)
	slope := 100.0
	center, width := 100.0, 200.0
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{RescaleSlope: &slope, WindowCenter: &center, WindowWidth: &width},
		filepath.Join(t.TempDir(), "rescale.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out).(*image.Gray16)
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("pixel 0 = %d, want 0", img.Gray16At(0, 0).Y)
	}
	// 200 and 300 both clip to the window top
	if img.Gray16At(0, 1).Y != img.Gray16At(1, 1).Y {
		t.Errorf("pixels at window ceiling differ: %d vs %d", img.Gray16At(0, 1).Y, img.Gray16At(1, 1).Y)
	}
	if img.Gray16At(1, 0).Y >= img.Gray16At(0, 1).Y {
		t.Error("mid value should stay below the ceiling")
	}
}

func TestRender_Monochrome1Inverts(t *testing.T) {
	payload := payload16(0, 100, 200, 300)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME1"},
		Calibration{}, filepath.Join(t.TempDir(), "mono1.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out).(*image.Gray16)
	if img.Gray16At(0, 0).Y != 65535 {
		t.Errorf("lowest raw value should render brightest, got %d", img.Gray16At(0, 0).Y)
	}
	if img.Gray16At(1, 1).Y != 0 {
		t.Errorf("highest raw value should render darkest, got %d", img.Gray16At(1, 1).Y)
	}
}

func TestRender_EightBitOutput(t *testing.T) {
	payload := payload16(0, 100, 200, 300)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{}, filepath.Join(t.TempDir(), "g8.png"), Options{BitDepth: 8})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out)
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("decoded image is %T, want *image.Gray", img)
	}
	if g.GrayAt(0, 0).Y != 0 || g.GrayAt(1, 1).Y != 255 {
		t.Errorf("8-bit range = %d..%d, want 0..255", g.GrayAt(0, 0).Y, g.GrayAt(1, 1).Y)
	}
}

func TestRender_SignedSamples(t *testing.T) {
	// -100 as two's complement must sort below +100
	payload := payload16(uint16(0xFF9C), 0, 100, 100)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2", Signed: true},
		Calibration{}, filepath.Join(t.TempDir(), "signed.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out).(*image.Gray16)
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("-100 should be darkest, got %d", img.Gray16At(0, 0).Y)
	}
	if img.Gray16At(0, 1).Y != 65535 {
		t.Errorf("+100 should be brightest, got %d", img.Gray16At(0, 1).Y)
	}
}

func TestRender_Upscale(t *testing.T) {
	payload := payload16(0, 100, 200, 300)
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{}, filepath.Join(t.TempDir(), "up.png"), Options{BitDepth: 16, UpscaleFactor: 4})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out)
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("upscaled size = %dx%d, want 8x8", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if _, ok := img.(*image.Gray16); !ok {
		t.Errorf("upscaled image is %T, want *image.Gray16", img)
	}
}

func TestRender_ForcesPNGExtension(t *testing.T) {
	payload := payload16(0, 100, 200, 300)
	target := filepath.Join(t.TempDir(), "nested", "dir", "slice.dcm")
	out, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16},
		Calibration{}, target, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if filepath.Ext(out) != ".png" {
		t.Errorf("output extension = %q, want .png", filepath.Ext(out))
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestRender_TruncatedPayload(t *testing.T) {
	_, err := Render(payload16(1, 2), Geometry{Rows: 4, Cols: 4, BitsAllocated: 16},
		Calibration{}, filepath.Join(t.TempDir(), "short.png"), Options{})
	if err == nil {
		t.Error("truncated payload should error")
	}
}

func TestRender_MultiFramePayload(t *testing.T) {
	// two concatenated 2x2 frames must not silently render as frame one
	payload := payload16(0, 100, 200, 300, 400, 500, 600, 700)
	target := filepath.Join(t.TempDir(), "frames.png")
	_, err := Render(payload, Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"},
		Calibration{}, target, Options{BitDepth: 16})
	if err == nil {
		t.Fatal("oversized payload should error")
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Errorf("no output should be written, stat: %v", statErr)
	}
}

func TestRender_Deterministic(t *testing.T) {
	payload := payload16(0, 100, 200, 300)
	geom := Geometry{Rows: 2, Cols: 2, BitsAllocated: 16, Photometric: "MONOCHROME2"}
	center, width := 150.0, 300.0
	calib := Calibration{WindowCenter: &center, WindowWidth: &width}
	dir := t.TempDir()

	first, err := Render(payload, geom, calib, filepath.Join(dir, "a.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("first Render: %v", err)
	}
	second, err := Render(payload, geom, calib, filepath.Join(dir, "b.png"), Options{BitDepth: 16})
	if err != nil {
		t.Fatalf("second Render: %v", err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read %s: %v", first, err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read %s: %v", second, err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same input bytes should produce byte-identical rasters")
	}
}

func TestRender_RGB(t *testing.T) {
	// 1x2 RGB, 8 bits per sample
	payload := []byte{255, 0, 0, 0, 0, 255}
	out, err := Render(payload, Geometry{Rows: 1, Cols: 2, BitsAllocated: 8, SamplesPerPixel: 3, Photometric: "RGB"},
		Calibration{}, filepath.Join(t.TempDir(), "rgb.png"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := decodePNG(t, out)
	r, _, _, _ := img.At(0, 0).RGBA()
	_, _, b, _ := img.At(1, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("pixel 0 red = %d, want 255", r>>8)
	}
	if b>>8 != 255 {
		t.Errorf("pixel 1 blue = %d, want 255", b>>8)
	}
}
