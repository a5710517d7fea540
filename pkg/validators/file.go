// Package validators contains validators found throughout the application
// that have been abstracted away from the main code
package validators

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
	ErrNoFile              = errors.New("no file provided")
)

const maxFileNameSize = 255

// VideoFileValidator checks an uploaded video and returns it opened and
// rewound. allowed lists accepted mime types; empty accepts any video/*.
func VideoFileValidator(fh *multipart.FileHeader, maxSize int64, allowed []string) (int, multipart.File, error) {
	return fileValidator(fh, maxSize, func(m *mimetype.MIME) bool {
		if len(allowed) == 0 {
			return strings.HasPrefix(m.String(), "video/")
		}

		return mimetype.EqualsAny(m.String(), allowed...)
	})
}

// ImageFileValidator checks an uploaded thumbnail image
func ImageFileValidator(fh *multipart.FileHeader, maxSize int64) (int, multipart.File, error) {
	return fileValidator(fh, maxSize, func(m *mimetype.MIME) bool {
		return strings.HasPrefix(m.String(), "image/")
	})
}

func fileValidator(fh *multipart.FileHeader, maxSize int64, accept func(*mimetype.MIME) bool) (int, multipart.File, error) {
	if fh == nil {
		return http.StatusBadRequest, nil, ErrNoFile
	}

	if len(fh.Filename) > maxFileNameSize {
		return http.StatusBadRequest, nil, ErrFileNameTooLong
	}

	if maxSize > 0 && fh.Size > maxSize {
		return http.StatusRequestEntityTooLarge, nil, ErrFileTooLarge
	}

	// Headers are easy to spoof, the content decides
	f, err := fh.Open()
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return http.StatusInternalServerError, nil, err
	}

	if !accept(mime) {
		f.Close()
		return http.StatusBadRequest, nil, ErrFileTypeUnsupported
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return http.StatusInternalServerError, nil, err
	}

	return 0, f, nil
}
