package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"github.com/goliatone/go-campus-client/pipeline"
	"github.com/goliatone/go-campus-client/transport"
)

// imageField is the multipart field the backend reads.
const imageField = "image"

// Upload sends files to the backend's upload endpoint.
type Upload struct {
	exec Executor
}

// Image uploads the content of r as name and returns its public URL. The body
// is buffered so that it can be resent after a token refresh.
func (u *Upload) Image(ctx context.Context, name string, r io.Reader) (string, error) {
	name = path.Base(name)
	if name == "" || name == "." || name == "/" {
		name = "upload.jpg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, name))
	h.Set("Content-Type", imageContentType(name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("upload.Image: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload.Image: read: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload.Image: %w", err)
	}

	req := pipeline.Request{Request: transport.Request{
		Method:      http.MethodPost,
		Path:        "/upload",
		Raw:         buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	}}
	resp, err := call[struct {
		URL string `json:"url"`
	}](ctx, u.exec, "upload.Image", req)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("upload.Image: response has no url")
	}
	return resp.URL, nil
}

func imageContentType(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
