package imageconv

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/heic"

	"github.com/nao1215/webimg/internal/model"
)

// SizeOf returns the pixel size of the image at path by reading its header.
func SizeOf(path string) (model.Size, error) {
	f, err := os.Open(path) //nolint:gosec // path is built by the acquirer
	if err != nil {
		return model.Size{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return sizeOfReader(f, filepath.Ext(path))
}

// SizeOfBytes returns the pixel size of an in-memory image.
func SizeOfBytes(data []byte) (model.Size, error) {
	return sizeOfReader(bytes.NewReader(data), "")
}

func sizeOfReader(r io.Reader, ext string) (model.Size, error) {
	var (
		cfg image.Config
		err error
	)
	switch normalizeExt(ext) {
	case "heic", "heif":
		cfg, err = heic.DecodeConfig(r)
	case "avif":
		cfg, err = avif.DecodeConfig(r)
	default:
		cfg, _, err = image.DecodeConfig(r)
	}
	if err != nil {
		return model.Size{}, fmt.Errorf("probe image size: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.Size{}, fmt.Errorf("probe image size: %w", ErrUnsupportedFormat)
	}
	return model.Size{Width: cfg.Width, Height: cfg.Height}, nil
}
