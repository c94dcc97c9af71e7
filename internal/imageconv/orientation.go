package imageconv

import (
	"image"
	"image/draw"
	"strconv"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// Orientation returns the EXIF orientation tag (1-8) found in data, or 1
// when the image carries no usable EXIF block.
func Orientation(data []byte) int {
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return 1
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return 1
	}

	for _, entry := range entries {
		if entry.TagName != "Orientation" {
			continue
		}
		switch v := entry.Value.(type) {
		case []uint16:
			if len(v) > 0 && v[0] >= 1 && v[0] <= 8 {
				return int(v[0])
			}
		case uint16:
			if v >= 1 && v <= 8 {
				return int(v)
			}
		}
		fields := strings.Fields(strings.Trim(entry.Formatted, "[]"))
		if len(fields) > 0 {
			if n, err := strconv.Atoi(fields[0]); err == nil && n >= 1 && n <= 8 {
				return n
			}
		}
	}
	return 1
}

// applyOrientation returns img transformed so that it displays upright.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipH(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipH(rotate180(img))
	case 5:
		return flipH(rotate90(img))
	case 6:
		return rotate90(img)
	case 7:
		return flipH(rotate270(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// rotate90 rotates clockwise by 90 degrees.
func rotate90(img image.Image) image.Image {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := range h {
		for x := range w {
			dst.Set(h-1-y, x, src.At(x, y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			dst.Set(w-1-x, h-1-y, src.At(x, y))
		}
	}
	return dst
}

// rotate270 rotates counter-clockwise by 90 degrees.
func rotate270(img image.Image) image.Image {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := range h {
		for x := range w {
			dst.Set(y, w-1-x, src.At(x, y))
		}
	}
	return dst
}

func flipH(img image.Image) image.Image {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			dst.Set(w-1-x, y, src.At(x, y))
		}
	}
	return dst
}
