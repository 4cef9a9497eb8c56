// Package media checks images before they are uploaded: profile icons,
// article thumbnails and images embedded in article bodies.
package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"calmie/internal/media/sniffer"
	"calmie/internal/media/svg"
)

const (
	// MaxIconSize caps icon uploads.
	MaxIconSize = 5 << 20
	// MaxImageSize caps article thumbnails and attached images.
	MaxImageSize = 10 << 20
)

var (
	ErrEmpty       = errors.New("file is empty")
	ErrTooLarge    = errors.New("file is too large")
	ErrUnsupported = errors.New("file is not a supported image")
)

// File is an upload ready to send: its content type comes from the bytes and
// its file name carries the matching extension.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

func PrepareIcon(filename string, data []byte) (File, error) {
	return prepare(filename, data, MaxIconSize, "icon")
}

// PrepareImage checks an article thumbnail or an image referenced from an
// article body.
func PrepareImage(filename string, data []byte) (File, error) {
	return prepare(filename, data, MaxImageSize, "image")
}

func prepare(filename string, data []byte, limit int, fallback string) (File, error) {
	if len(data) == 0 {
		return File{}, fmt.Errorf("%w: %s", ErrEmpty, filename)
	}
	if len(data) > limit {
		return File{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, filename, len(data), limit)
	}

	result, err := sniffer.DetectHead(data)
	if err != nil {
		return File{}, fmt.Errorf("%w: %s: %v", ErrUnsupported, filename, err)
	}

	if result.Type == sniffer.TypeSVG {
		data, err = svg.Sanitize(data)
		if err != nil {
			return File{}, fmt.Errorf("%w: %s: %v", ErrUnsupported, filename, err)
		}
	}

	return File{
		Filename:    uploadFilename(filename, result, fallback),
		ContentType: result.MIME,
		Data:        data,
	}, nil
}

func uploadFilename(name string, result sniffer.Result, fallback string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = fallback
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = fallback
	}
	if strings.EqualFold(ext, ".jpeg") && result.Type == sniffer.TypeJPEG {
		return stem + ext
	}
	return stem + result.Extension()
}
