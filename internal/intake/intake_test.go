package intake

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestAccept(t *testing.T) {
	img := pngBytes(t)

	t.Run("declared image type", func(t *testing.T) {
		u, err := Accept("a.png", "image/png", SourceDrop, img)
		require.NoError(t, err)
		assert.Equal(t, "image/png", u.MediaType)
		assert.Equal(t, SourceDrop, u.Source)
		assert.Equal(t, "a.png", u.Filename)
	})

	t.Run("declared type trusted over content", func(t *testing.T) {
		_, err := Accept("notes.txt", "text/plain; charset=utf-8", SourcePicker, img)
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("generic type is sniffed", func(t *testing.T) {
		u, err := Accept("blob", "application/octet-stream", SourcePicker, img)
		require.NoError(t, err)
		assert.Equal(t, "image/png", u.MediaType)
	})

	t.Run("missing type is sniffed", func(t *testing.T) {
		_, err := Accept("blob", "", SourcePicker, []byte("%PDF-1.4 not an image"))
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := Accept("a.png", "image/png", SourcePicker, nil)
		assert.ErrorIs(t, err, ErrEmpty)
	})
}

func TestPreviewType(t *testing.T) {
	t.Run("sniffed raster type", func(t *testing.T) {
		assert.Equal(t, "image/png", PreviewType(pngBytes(t)))
	})

	t.Run("svg is not served as an image", func(t *testing.T) {
		svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" onload="alert(1)"></svg>`)
		assert.Equal(t, "application/octet-stream", PreviewType(svg))
	})

	t.Run("non-image content", func(t *testing.T) {
		assert.Equal(t, "application/octet-stream", PreviewType([]byte("<html><script></script></html>")))
	})
}

func TestParseSource(t *testing.T) {
	assert.Equal(t, SourceDrop, ParseSource("drop"))
	assert.Equal(t, SourcePicker, ParseSource("picker"))
	assert.Equal(t, SourcePicker, ParseSource(""))
}

func multipartFile(t *testing.T, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="image"; filename="skin.png"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["image"][0]
}

func TestFromMultipart(t *testing.T) {
	img := pngBytes(t)

	t.Run("accepts image", func(t *testing.T) {
		u, err := FromMultipart(multipartFile(t, "image/png", img), SourcePicker, 1<<20)
		require.NoError(t, err)
		assert.Equal(t, img, u.Data)
		assert.Equal(t, "skin.png", u.Filename)
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := FromMultipart(multipartFile(t, "image/png", img), SourcePicker, 8)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("rejects non-image", func(t *testing.T) {
		_, err := FromMultipart(multipartFile(t, "text/plain", []byte("hello")), SourcePicker, 1<<20)
		assert.ErrorIs(t, err, ErrNotImage)
	})
}
