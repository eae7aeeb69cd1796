package utils

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iemontine/microblog/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upload(t *testing.T, name string, body []byte) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	f, h, err := req.FormFile("file")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, h
}

func TestImageStore_SaveAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s := NewImageStore(dir, "/uploads/")

	f, h := upload(t, "Field.PNG", []byte("png bytes"))
	public, err := s.SaveImage(f, h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(public, "/uploads/"))
	assert.True(t, strings.HasSuffix(public, ".png"))

	stored := filepath.Join(dir, filepath.Base(public))
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	require.NoError(t, s.DeleteImage(public))
	assert.NoFileExists(t, stored)
	require.NoError(t, s.DeleteImage(public), "deleting twice is fine")
}

func TestImageStore_RejectsBadUploads(t *testing.T) {
	s := NewImageStore(t.TempDir(), "/uploads")

	f, h := upload(t, "script.sh", []byte("#!/bin/sh"))
	_, err := s.SaveImage(f, h)
	assert.True(t, apperr.Is(err, apperr.Invalid))

	f, h = upload(t, "big.png", []byte("x"))
	h.Size = MaxImageSize + 1
	_, err = s.SaveImage(f, h)
	assert.True(t, apperr.Is(err, apperr.Invalid))
}

func TestImageStore_UnwritableDirIsStorageIO(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	s := NewImageStore(filepath.Join(blocker, "uploads"), "/uploads")
	f, h := upload(t, "ok.png", []byte("png"))
	_, err := s.SaveImage(f, h)
	assert.True(t, apperr.Is(err, apperr.StorageIO))
}

// flakyFile accepts writes but fails to flush them on close.
type flakyFile struct {
	bytes.Buffer
	closed bool
}

func (f *flakyFile) Close() error {
	f.closed = true
	return errors.New("input/output error")
}

func TestWriteUpload_CloseFailureIsAWriteFailure(t *testing.T) {
	dst := &flakyFile{}
	err := writeUpload(dst, strings.NewReader("GIF89a"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.StorageIO))
	assert.True(t, dst.closed)
}

func TestWriteUpload_OversizeBodyRejected(t *testing.T) {
	dst := &flakyFile{}
	err := writeUpload(dst, bytes.NewReader(make([]byte, MaxImageSize+1)))
	assert.True(t, apperr.Is(err, apperr.Invalid))
	assert.True(t, dst.closed)
}
