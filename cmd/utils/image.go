package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iemontine/microblog/apperr"
	"github.com/google/uuid"
)

const MaxImageSize = 10 << 20 // 10 MB

// ImageStore keeps uploaded post images under Dir and serves them from
// URLPrefix.
type ImageStore struct {
	Dir       string
	URLPrefix string
}

func NewImageStore(dir, urlPrefix string) *ImageStore {
	return &ImageStore{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}
}

// SaveImage saves an uploaded image and returns its public path.
func (s *ImageStore) SaveImage(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size > MaxImageSize {
		return "", apperr.New(apperr.Invalid, "file size exceeds maximum limit of %d MB", MaxImageSize/(1<<20))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !isValidImageType(ext) {
		return "", apperr.New(apperr.Invalid, "invalid file type: %q", ext)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.StorageIO, err, "failed to create upload directory")
	}

	filename := fmt.Sprintf("%s-%s%s",
		time.Now().Format("20060102"),
		uuid.New().String(),
		ext,
	)
	filePath := filepath.Join(s.Dir, filename)

	dst, err := os.Create(filePath)
	if err != nil {
		return "", apperr.Wrap(apperr.StorageIO, err, "failed to create file")
	}

	if err := writeUpload(dst, file); err != nil {
		os.Remove(filePath)
		return "", err
	}

	return s.URLPrefix + "/" + filename, nil
}

// writeUpload copies src into dst and closes dst. A failed close means the
// file may be truncated and counts as a failed write.
func writeUpload(dst io.WriteCloser, src io.Reader) error {
	// Guard against a header that under-reports the body size.
	n, err := io.Copy(dst, io.LimitReader(src, MaxImageSize+1))
	cerr := dst.Close()
	switch {
	case err != nil:
		return apperr.Wrap(apperr.StorageIO, err, "failed to save file")
	case n > MaxImageSize:
		return apperr.New(apperr.Invalid, "file size exceeds maximum limit of %d MB", MaxImageSize/(1<<20))
	case cerr != nil:
		return apperr.Wrap(apperr.StorageIO, cerr, "failed to save file")
	}
	return nil
}

func isValidImageType(ext string) bool {
	validTypes := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
	}
	return validTypes[ext]
}

// DeleteImage removes the file behind a public path. Missing files are not
// an error.
func (s *ImageStore) DeleteImage(imageURL string) error {
	filePath := filepath.Join(s.Dir, path.Base(imageURL))

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.StorageIO, err, "failed to delete image")
	}
	return nil
}
