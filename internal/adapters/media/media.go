// Package media stores race recordings and frames. Uploads go to the
// configured media service; when it is unreachable the artifact lands in a
// local directory instead so a finished race never loses its reference.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

const (
	defaultLocalDir   = "media"
	uploadTimeout     = 15 * time.Second
	localDirPerm      = 0o755
	localFilePerm     = 0o644
	maxUploadRespSize = 1 << 20
)

// Uploader persists media artifacts and hands back a reference.
type Uploader struct {
	uploadURL string
	dir       string
	client    *http.Client
	log       logger.Logger
}

// Option applies a configuration option to the Uploader.
type Option func(*Uploader)

// WithUploadURL sets the remote media service endpoint.
func WithUploadURL(url string) Option {
	return func(u *Uploader) { u.uploadURL = url }
}

// WithLocalDir sets the fallback directory for local artifacts.
func WithLocalDir(dir string) Option {
	return func(u *Uploader) {
		if dir != "" {
			u.dir = dir
		}
	}
}

// WithHTTPClient overrides the upload client, for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) { u.client = client }
}

// New builds an uploader. With no upload URL every artifact goes to disk.
func New(opts ...Option) *Uploader {
	u := &Uploader{
		dir:    defaultLocalDir,
		client: &http.Client{Timeout: uploadTimeout},
		log:    logger.Get().Named("media"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores buf under name and returns a reference to it. Remote first,
// local directory second, nil only when both fail.
func (u *Uploader) Upload(ctx context.Context, name string, buf []byte) *string {
	if u.uploadURL != "" {
		ref, err := u.uploadRemote(ctx, name, buf)
		if err == nil {
			return &ref
		}
		metrics.RecordErrorByComponent("media", "upload_failed")
		u.log.Warn(ctx, "remote upload failed, keeping artifact locally",
			logger.String("name", name),
			logger.Error(err),
		)
	}

	ref, err := u.storeLocal(name, buf)
	if err != nil {
		metrics.RecordErrorByComponent("media", "local_store_failed")
		u.log.Error(ctx, "local media store failed, dropping artifact",
			logger.String("name", name),
			logger.Error(err),
		)
		return nil
	}
	return &ref
}

func (u *Uploader) uploadRemote(ctx context.Context, name string, buf []byte) (string, error) {
	url := u.uploadURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadRespSize))
	if err != nil {
		return "", fmt.Errorf("upload %s: read response: %w", name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("upload %s: status %d", name, resp.StatusCode)
	}

	// The service may answer with its canonical URL; the request URL is a
	// valid reference otherwise.
	var body struct {
		URL string `json:"url"`
	}
	if jerr := json.Unmarshal(raw, &body); jerr == nil && body.URL != "" {
		return body.URL, nil
	}
	return url, nil
}

func (u *Uploader) storeLocal(name string, buf []byte) (string, error) {
	if err := os.MkdirAll(u.dir, localDirPerm); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	path := filepath.Join(u.dir, uuid.NewString()+"-"+filepath.Base(name))
	if err := os.WriteFile(path, buf, localFilePerm); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return path, nil
}
