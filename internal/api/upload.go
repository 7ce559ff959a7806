package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/teris-io/shortid"
)

// allowedUploadTypes lists the attachment types accepted for messages.
var allowedUploadTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/webm",
	"audio/mpeg",
	"audio/ogg",
	"application/pdf",
}

const uploadUrlPrefix = "/uploads/"

// saveUpload sniffs the attachment type, writes it under the upload dir
// with a generated name and returns its public URL.
func (s *App) saveUpload(src io.Reader, size int64) (string, error) {
	if size > s.maxUploadBytes {
		return "", NewTooLargeError()
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", NewInternalServerError(fmt.Errorf("read upload: %w", err))
	}
	head = head[:n]
	if n == 0 {
		return "", NewBadRequestError("empty file")
	}

	mtype := mimetype.Detect(head)
	if !mimetype.EqualsAny(mtype.String(), allowedUploadTypes...) {
		return "", NewBadRequestError("unsupported file type " + mtype.String())
	}

	id, err := shortid.Generate()
	if err != nil {
		return "", NewInternalServerError(fmt.Errorf("generate file name: %w", err))
	}
	name := id + mtype.Extension()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", NewInternalServerError(fmt.Errorf("create upload dir: %w", err))
	}

	dst, err := os.OpenFile(filepath.Join(s.uploadDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", NewInternalServerError(fmt.Errorf("create upload: %w", err))
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), io.LimitReader(src, s.maxUploadBytes-int64(n)+1)))
	if err == nil && written > s.maxUploadBytes {
		err = NewTooLargeError()
	}
	if err != nil {
		dst.Close()
		os.Remove(dst.Name())
		if apiErr, ok := err.(*ApiError); ok {
			return "", apiErr
		}
		return "", NewInternalServerError(fmt.Errorf("write upload: %w", err))
	}

	return uploadUrlPrefix + name, nil
}

// uploadFS serves stored attachments without directory listings.
type uploadFS struct {
	fs http.FileSystem
}

func (u uploadFS) Open(name string) (http.File, error) {
	f, err := u.fs.Open(name)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}

	return f, nil
}

// removeUpload deletes a file stored by saveUpload.
func (s *App) removeUpload(fileUrl string) {
	name := filepath.Base(strings.TrimPrefix(fileUrl, uploadUrlPrefix))
	if err := os.Remove(filepath.Join(s.uploadDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Printf("remove upload %s: %v", name, err)
	}
}
