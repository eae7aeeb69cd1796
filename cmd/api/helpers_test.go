package api

import (
	"bytes"
	"mime/multipart"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// multipartBody encodes form as multipart and returns it with its content type.
func multipartBody(t *testing.T, form url.Values) (string, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range form {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	require.NoError(t, mw.Close())
	return buf.String(), mw.FormDataContentType()
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
