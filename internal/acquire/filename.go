package acquire

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/webimg/internal/urlutil"
)

// randomNameLength is the length of generated fallback names.
const randomNameLength = 10

// maxBaseBytes keeps generated names under common filesystem limits.
const maxBaseBytes = 200

// unsafeChars are removed from URL-derived filenames.
const unsafeChars = `\/:*?"<>|`

// sanitize removes filesystem-unsafe and control characters from name and
// normalizes it to NFC.
func sanitize(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(unsafeChars, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// candidateName derives a filename for rawURL. ext is the extension
// reported for the URL; it is appended when the URL's own name lacks an
// image extension and defaults to "jpeg".
func candidateName(rawURL, ext string) string {
	name := sanitize(urlutil.FilenameFromURL(rawURL))
	if !urlutil.IsImageExtension(filepath.Ext(name)) {
		if !urlutil.IsImageExtension(ext) {
			ext = "jpeg"
		}
		name = name + "." + strings.ToLower(ext)
	}
	return truncateBase(name)
}

// truncateBase shortens the part before the extension to maxBaseBytes.
func truncateBase(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if len(base) <= maxBaseBytes {
		return name
	}
	cut := maxBaseBytes
	for cut > 0 && !isRuneStart(base[cut]) {
		cut--
	}
	return base[:cut] + ext
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// randomName returns a random lowercase name with the extension of name.
func randomName(name string) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, randomNameLength)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))] //nolint:gosec // not security sensitive
	}
	return string(b) + filepath.Ext(name)
}

// claim atomically creates a new empty file for name in dir. If name is
// taken or unusable, a random name with the same extension is tried once.
// It returns the path and base name actually claimed.
func claim(dir, name string) (string, string, error) {
	if name == "" || strings.HasPrefix(name, ".") {
		name = randomName(name)
	}

	path, err := create(dir, name)
	if err == nil {
		return path, name, nil
	}

	alt := randomName(name)
	path, altErr := create(dir, alt)
	if altErr != nil {
		return "", "", fmt.Errorf("claim %s: %w", name, errors.Join(err, altErr))
	}
	return path, alt, nil
}

func create(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // output files are meant to be shared
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// writeNew claims a file for name in dir and writes data to it.
func writeNew(dir, name string, data []byte) (string, string, error) {
	path, claimed, err := claim(dir, name)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // output files are meant to be shared
		_ = os.Remove(path) //nolint:errcheck // best effort cleanup
		return "", "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, claimed, nil
}

// exists reports whether path is a regular file.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
