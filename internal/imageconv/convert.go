// Package imageconv normalizes downloaded images into the formats the
// output consumer can display: JPEG, PNG and GIF.
//
// Every operation reports failure through its error; callers treat any
// error as "asset unavailable" and move on. Nothing is written to the
// destination path unless the encode succeeded.
package imageconv

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/heic"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WEBP decoder
)

// Default SVG canvas size.
const (
	SVGWidth  = 1920
	SVGHeight = 1080
)

// JPEGQuality is the quality used when re-encoding to JPEG.
const JPEGQuality = 90

// Sentinel errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidCanvas     = errors.New("canvas size must be positive")
)

// Decode reads the image at path. HEIC and AVIF go through their dedicated
// decoders; every other format uses the registered image decoders.
func Decode(path string) (image.Image, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built by the acquirer
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeBytes(data, filepath.Ext(path))
}

// DecodeBytes decodes data. ext is a hint used to pick a dedicated decoder.
func DecodeBytes(data []byte, ext string) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch normalizeExt(ext) {
	case "heic", "heif":
		img, err = heic.Decode(bytes.NewReader(data))
	case "avif":
		img, err = avif.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ToJPEG decodes src, applies its EXIF orientation, flattens alpha onto
// white and writes a JPEG to dst.
func ToJPEG(src, dst string) error {
	data, err := os.ReadFile(src) //nolint:gosec // path is built by the acquirer
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	img, err := DecodeBytes(data, filepath.Ext(src))
	if err != nil {
		return err
	}
	img = applyOrientation(img, Orientation(data))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return writeFile(dst, buf.Bytes())
}

// ToPNG decodes src and writes a PNG to dst, preserving alpha.
func ToPNG(src, dst string) error {
	img, err := Decode(src)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return writeFile(dst, buf.Bytes())
}

// SVGToPNG rasterizes the SVG document at src onto a width x height canvas
// and writes it to dst.
func SVGToPNG(src, dst string, width, height int) error {
	if width <= 0 || height <= 0 {
		return ErrInvalidCanvas
	}
	f, err := os.Open(src) //nolint:gosec // path is built by the acquirer
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	icon, err := oksvg.ReadIconStream(f)
	if err != nil {
		return fmt.Errorf("parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return writeFile(dst, buf.Bytes())
}

// Normalize converts src into dst according to f.Target.
func Normalize(src, dst string, f Format) error {
	switch {
	case f.Kind == KindVector:
		return SVGToPNG(src, dst, SVGWidth, SVGHeight)
	case f.Target == "png":
		return ToPNG(src, dst)
	case f.Target == "jpeg" || f.Target == "jpg":
		return ToJPEG(src, dst)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Ext)
	}
}

// WithExt replaces the extension of path with ext, which must include the dot.
func WithExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// flatten draws img onto an opaque white canvas.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// writeFile writes data to path, replacing any placeholder there.
func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
