package intake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotImage = errors.New("file is not an image")
	ErrTooLarge = errors.New("file exceeds upload limit")
	ErrEmpty    = errors.New("file is empty")
)

// Source identifies how the user handed the file over.
type Source string

const (
	SourcePicker Source = "picker"
	SourceDrop   Source = "drop"
)

// ParseSource maps a form value onto a Source, defaulting to the file picker.
func ParseSource(v string) Source {
	if Source(v) == SourceDrop {
		return SourceDrop
	}
	return SourcePicker
}

// Upload is an accepted image file.
type Upload struct {
	Filename  string
	MediaType string
	Source    Source
	Data      []byte
}

// MediaType resolves the type of a file: the declared type wins unless it is absent
// or generic, in which case the content is sniffed.
func MediaType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	return mimetype.Detect(data).String()
}

// PreviewType is the content type an accepted upload is served back with. Only the
// sniffed content counts, and markup formats are never served as images.
func PreviewType(data []byte) string {
	mt := mimetype.Detect(data)
	if !IsImage(mt.String()) || mt.Is("image/svg+xml") {
		return "application/octet-stream"
	}
	return mt.String()
}

// IsImage reports whether a media type names an image.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

// Accept validates a file handed over by the user.
func Accept(filename, declared string, source Source, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}
	mt := MediaType(declared, data)
	if !IsImage(mt) {
		return Upload{}, fmt.Errorf("%w: %s", ErrNotImage, mt)
	}
	return Upload{
		Filename:  filename,
		MediaType: mt,
		Source:    source,
		Data:      data,
	}, nil
}

// FromMultipart reads and validates an uploaded form file, reading at most maxBytes.
func FromMultipart(fh *multipart.FileHeader, source Source, maxBytes int64) (Upload, error) {
	if fh.Size > maxBytes {
		return Upload{}, ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return Upload{}, ErrTooLarge
	}
	return Accept(fh.Filename, fh.Header.Get("Content-Type"), source, data)
}
