package acquire

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/webimg/internal/imageconv"
	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/urlutil"
)

// outcome is how a strategy ended for one URL.
type outcome int

const (
	// outcomeFailed passes the URL to the next strategy.
	outcomeFailed outcome = iota
	// outcomeAccepted ends the chain with an asset.
	outcomeAccepted
	// outcomeRejected ends the chain without an asset.
	outcomeRejected
)

var (
	// errTooSmall rejects an asset below the minimum size.
	errTooSmall = errors.New("below minimum size")

	// errNotImage fails a body that neither probes as an image nor is
	// served with an image/* content type.
	errNotImage = errors.New("response is not an image")
)

// result is what a strategy returns. asset is set only when outcome is
// outcomeAccepted; err explains the other outcomes in debug logs.
type result struct {
	outcome outcome
	asset   model.Asset
	err     error
}

func failed(err error) result   { return result{outcome: outcomeFailed, err: err} }
func rejected(err error) result { return result{outcome: outcomeRejected, err: err} }
func accepted(a model.Asset) result {
	return result{outcome: outcomeAccepted, asset: a}
}

// strategy is one step of the acquisition chain.
//
// Design decision: strategies return a result instead of writing into the
// harvest map. The Acquirer decides what a result means for the chain, and
// only the crawler commits assets, so a strategy cannot record a file that
// a later step deletes.
type strategy interface {
	// name is the strategy recorded on assets it produces.
	name() model.Strategy

	// acquire attempts req. Files it leaves behind on failure or
	// rejection are removed before it returns.
	acquire(ctx context.Context, req *request) result
}

// directStrategy downloads ordinary raster images, checking their size
// in memory before anything touches the disk.
//
// A body whose Content-Type names an exotic format is handed to the
// convert step instead, and BMP/TIFF bodies are normalized to PNG, so the
// output directory only receives formats slide tools can show.
type directStrategy struct {
	a *Acquirer
}

func (directStrategy) name() model.Strategy { return model.StrategyDirect }

func (s directStrategy) acquire(ctx context.Context, req *request) result {
	body, header, err := s.a.get(ctx, req.url)
	if err != nil {
		return failed(err)
	}

	// The server knows better than the URL when it serves an exotic format.
	if f, ok := imageconv.Lookup(urlutil.ExtensionForContentType(header.Get("Content-Type"))); ok && f.Kind.Exotic() {
		reroute := *req
		reroute.ext = f.Ext
		reroute.format = f
		return convertStrategy{a: s.a}.store(&reroute, body)
	}

	var size *model.Size
	if probed, err := imageconv.SizeOfBytes(body); err == nil {
		size = &probed
	} else if !isImageContentType(header.Get("Content-Type")) {
		return failed(errNotImage)
	}
	if !s.a.accepts(size) {
		return rejected(errTooSmall)
	}

	path, filename, err := writeNew(s.a.outDir, candidateName(req.url, req.ext), body)
	if err != nil {
		return failed(err)
	}

	f, known := imageconv.Lookup(filepath.Ext(filename))
	if !known || !f.NeedsConversion() {
		asset := model.Asset{Filename: filename, LocalPath: path, Format: formatOf(filename)}
		if size != nil {
			asset.Size = *size
		}
		return accepted(asset)
	}

	// BMP and TIFF are stored as PNG.
	asset, err := s.a.normalize(path, filename, f)
	if err != nil {
		return failed(err)
	}
	return accepted(asset)
}

// convertStrategy fetches exotic formats raw and converts them.
//
// SVG is rasterized onto a fixed canvas and skips the size filter; its
// original is kept next to the PNG. HEIC becomes JPEG and WEBP/AVIF become
// PNG; those raw files are removed once converted, and the converted file
// is size-filtered. Any failure removes every file the step wrote.
type convertStrategy struct {
	a *Acquirer
}

func (convertStrategy) name() model.Strategy { return model.StrategyConvert }

func (s convertStrategy) acquire(ctx context.Context, req *request) result {
	body, _, err := s.a.get(ctx, req.url)
	if err != nil {
		return failed(err)
	}
	return s.store(req, body)
}

// store writes the raw bytes and converts them to the format's target.
func (s convertStrategy) store(req *request, body []byte) result {
	rawPath, rawName, err := writeNew(s.a.outDir, rawFileName(req), body)
	if err != nil {
		return failed(err)
	}
	if !exists(rawPath) {
		return failed(fmt.Errorf("raw file %s missing after write", rawPath))
	}

	asset, err := s.a.normalize(rawPath, rawName, req.format)
	if err != nil {
		return failed(err)
	}
	asset.Strategy = model.StrategyConvert

	// Rasterized vectors have a fixed canvas and skip the size filter.
	if req.format.Kind == imageconv.KindVector {
		return accepted(asset)
	}

	var size *model.Size
	if !asset.Size.IsZero() {
		size = &asset.Size
	}
	if !s.a.accepts(size) {
		_ = os.Remove(asset.LocalPath) //nolint:errcheck // best effort cleanup
		return rejected(errTooSmall)
	}
	return accepted(asset)
}

// rawFileName is the name the unconverted bytes are stored under. The URL's own
// extension is replaced when it names a different format than the one
// served, so "pic.png" served as SVG is stored as "pic.svg" and converted
// to "pic.png".
func rawFileName(req *request) string {
	name := candidateName(req.url, req.format.Ext)
	if f, ok := imageconv.Lookup(filepath.Ext(name)); !ok || f.Ext != req.format.Ext {
		name = imageconv.WithExt(name, "."+req.format.Ext)
	}
	return name
}

// screenshotStrategy renders the URL as a page and captures it.
// It is the last step of every chain and needs a rendering surface.
type screenshotStrategy struct {
	a *Acquirer
}

func (screenshotStrategy) name() model.Strategy { return model.StrategyScreenshot }

func (s screenshotStrategy) acquire(ctx context.Context, req *request) result {
	if s.a.surface == nil {
		return failed(errors.New("no rendering surface"))
	}

	shotCtx, cancel := context.WithTimeout(ctx, s.a.timeout)
	defer cancel()

	data, err := s.a.surface.Screenshot(shotCtx, req.url)
	if err != nil {
		return failed(err)
	}

	var size *model.Size
	if probed, err := imageconv.SizeOfBytes(data); err == nil {
		size = &probed
	}
	if !s.a.accepts(size) {
		return rejected(errTooSmall)
	}

	name := imageconv.WithExt(candidateName(req.url, req.ext), ".png")
	path, filename, err := writeNew(s.a.outDir, name, data)
	if err != nil {
		return failed(err)
	}

	asset := model.Asset{Filename: filename, LocalPath: path, Format: "png"}
	if size != nil {
		asset.Size = *size
	}
	return accepted(asset)
}

// normalize converts the file at rawPath to f.Target under a freshly
// claimed name. The raw file is removed unless it is an SVG whose
// rasterization succeeded.
func (a *Acquirer) normalize(rawPath, rawName string, f imageconv.Format) (model.Asset, error) {
	target := imageconv.WithExt(rawName, "."+f.Target)
	outPath, outName, err := claim(a.outDir, target)
	if err != nil {
		_ = os.Remove(rawPath) //nolint:errcheck // best effort cleanup
		return model.Asset{}, err
	}

	if err := imageconv.Normalize(rawPath, outPath, f); err != nil {
		_ = os.Remove(outPath) //nolint:errcheck // best effort cleanup
		_ = os.Remove(rawPath) //nolint:errcheck // best effort cleanup
		return model.Asset{}, err
	}
	if f.Kind != imageconv.KindVector {
		_ = os.Remove(rawPath) //nolint:errcheck // best effort cleanup
	}

	asset := model.Asset{Filename: outName, LocalPath: outPath, Format: f.Target}
	if size, err := imageconv.SizeOf(outPath); err == nil {
		asset.Size = size
	}
	return asset, nil
}

// isImageContentType reports whether the header names an image/* type.
func isImageContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

// formatOf returns the lowercased extension of name without the dot.
func formatOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
