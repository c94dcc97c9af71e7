package imageconv

import "strings"

// Kind groups image formats by how they are acquired and normalized.
type Kind int

const (
	// KindUnknown is an extension that is not an image format.
	KindUnknown Kind = iota
	// KindRaster is a format fetched with a size-checked GET.
	KindRaster
	// KindVector is SVG, rasterized to PNG at a fixed canvas size.
	KindVector
	// KindLegacy is HEIC/HEIF, decoded by its own decoder and re-encoded as JPEG.
	KindLegacy
	// KindModern is WEBP/AVIF, re-encoded as PNG.
	KindModern
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindVector:
		return "vector"
	case KindLegacy:
		return "legacy"
	case KindModern:
		return "modern"
	default:
		return "unknown"
	}
}

// Exotic reports whether the kind is fetched raw and converted, rather
// than downloaded through the size-checked path.
func (k Kind) Exotic() bool {
	return k == KindVector || k == KindLegacy || k == KindModern
}

// Format describes how one extension is handled.
type Format struct {
	// Ext is the normalized source extension without a dot.
	Ext string
	// Kind selects the acquisition path.
	Kind Kind
	// Target is the output extension. Empty means the file is kept as is.
	Target string
}

// NeedsConversion reports whether the stored file must be re-encoded.
func (f Format) NeedsConversion() bool {
	return f.Target != ""
}

// formats is the dispatch table keyed by normalized extension.
var formats = map[string]Format{
	"jpg":  {Ext: "jpg", Kind: KindRaster},
	"jpeg": {Ext: "jpeg", Kind: KindRaster},
	"png":  {Ext: "png", Kind: KindRaster},
	"gif":  {Ext: "gif", Kind: KindRaster},
	"ico":  {Ext: "ico", Kind: KindRaster},
	"bmp":  {Ext: "bmp", Kind: KindRaster, Target: "png"},
	"tif":  {Ext: "tif", Kind: KindRaster, Target: "png"},
	"tiff": {Ext: "tiff", Kind: KindRaster, Target: "png"},
	"svg":  {Ext: "svg", Kind: KindVector, Target: "png"},
	"heic": {Ext: "heic", Kind: KindLegacy, Target: "jpeg"},
	"heif": {Ext: "heif", Kind: KindLegacy, Target: "jpeg"},
	"webp": {Ext: "webp", Kind: KindModern, Target: "png"},
	"avif": {Ext: "avif", Kind: KindModern, Target: "png"},
}

// Lookup returns the Format for ext. The extension may carry a leading dot
// and any case.
func Lookup(ext string) (Format, bool) {
	f, ok := formats[normalizeExt(ext)]
	return f, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
