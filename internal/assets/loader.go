// Package assets inlines local image files into rendered pages.
package assets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

const (
	Background = "background.png"
	Sample     = "sample.png"
)

// ErrMissingAsset reports that a required file is absent from the assets directory.
var ErrMissingAsset = errors.New("missing asset")

// Loader reads files from dir on every call; nothing is cached.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Dir() string {
	return l.dir
}

// DataURI returns the file as a base64 data URI.
func (l *Loader) DataURI(name string) (string, error) {
	clean := filepath.Base(name)
	data, err := os.ReadFile(filepath.Join(l.dir, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissingAsset, clean)
		}
		return "", fmt.Errorf("read asset %s: %w", clean, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(clean))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
