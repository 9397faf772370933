package uploadsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	context_ "github.com/mkrupp/mediacache/internal/infra/context"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	http_ "github.com/mkrupp/mediacache/internal/infra/transport/http"
)

var (
	// ErrUnexpectedStatus is returned when the upload endpoint does not answer with 2xx.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrNoURL is returned when the upload endpoint does not return a URL.
	ErrNoURL = errors.New("no url in response")
)

const maxResponseSize = 1 << 20

// HTTPUploaderConfig holds configuration for the HTTP multipart uploader.
type HTTPUploaderConfig struct {
	// URL is the endpoint receiving the multipart uploads
	URL string `env:"URL" default:"http://localhost:8081/upload"`

	// FieldName is the form field name of the uploaded file
	FieldName string `env:"FIELD_NAME" default:"upload"`

	// AuthorizationHeader is sent verbatim in the Authorization header if set
	AuthorizationHeader string `env:"AUTHORIZATION" default:""`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// HTTPUploader implements Uploader by posting multipart forms to an HTTP endpoint
// that answers with a JSON object holding the URL of the stored file.
type HTTPUploader struct {
	httpClient *http.Client
	log        logging.Logger
	cfg        HTTPUploaderConfig
}

var _ Uploader = (*HTTPUploader)(nil)

// NewHTTPUploader creates a new HTTPUploader with the given configuration.
// If httpClient is nil, http.DefaultClient will be used.
func NewHTTPUploader(cfg HTTPUploaderConfig, httpClient *http.Client) *HTTPUploader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPUploader{
		httpClient: httpClient,
		log:        logging.GetLogger("svc.uploadsvc.http_uploader"),
		cfg:        cfg,
	}
}

// Upload implements Uploader.Upload.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, filename string) (location string, err error) {
	log := u.log.With(logging.Group("upload", "filename", filename, "size", len(data)))

	defer func() {
		if err != nil {
			log.WarnContext(ctx, "upload failed", "error", err)
		} else {
			log.DebugContext(ctx, "uploaded", "url", location)
		}
	}()

	var body bytes.Buffer

	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile(u.cfg.FieldName, filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}

	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", form.FormDataContentType())

	if u.cfg.AuthorizationHeader != "" {
		req.Header.Set("Authorization", u.cfg.AuthorizationHeader)
	}

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(http_.TraceIDHeader, traceID)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if out.URL == "" {
		return "", ErrNoURL
	}

	return out.URL, nil
}
