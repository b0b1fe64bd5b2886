// Package files uploads attachment payloads into a user's cloud storage over
// WebDAV and turns them into public share links.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/talk"
)

const (
	davPathPrefix = "/remote.php/dav/files/"
	sharesPath    = "/ocs/v2.php/apps/files_sharing/api/v1/shares"

	// shareTypeLink is a public link share.
	shareTypeLink = 3

	maxResponseBytes = 1 << 20
)

// Client accesses one user's file storage. Uploads stream; no call buffers
// whole file bodies. Safe for concurrent use.
type Client struct {
	creds  talk.Credentials
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient creates a file storage client for the given account. Requests
// carry no overall timeout; uploads can be large, callers bound them through
// the context.
func NewClient(creds talk.Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		creds:  creds,
		httpc:  &http.Client{},
		logger: logger,
	}
}

// MkDir ensures a folder path exists under the user's files, creating every
// missing segment. An existing folder is not an error.
func (c *Client) MkDir(ctx context.Context, dir string) error {
	segments := splitPath(dir)
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		status, body, err := c.send(ctx, "MKCOL", c.davURL(prefix), "", 0, nil)
		if err != nil {
			return fmt.Errorf("mkdir %s: %w", prefix, err)
		}
		// 405 means the collection already exists.
		if status == http.StatusMethodNotAllowed || isSuccess(status) {
			continue
		}
		return fmt.Errorf("mkdir %s: status %d: %s", prefix, status, snippet(body))
	}
	return nil
}

// Upload streams body to a file path, overwriting any previous content.
// progress, when non-nil, receives the running byte count.
func (c *Client) Upload(ctx context.Context, path, contentType string, size int64, body io.Reader, progress func(written int64)) error {
	reader := body
	if progress != nil {
		reader = &progressReader{r: body, fn: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.davURL(path), reader)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if size > 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.AppPassword)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("upload %s: status %d: %s", path, resp.StatusCode, snippet(raw))
	}
	c.logger.Debug("file uploaded", zap.String("path", path), zap.Int64("bytes", size))
	return nil
}

// Delete removes a file. A path the server does not know is treated as
// already deleted.
func (c *Client) Delete(ctx context.Context, path string) error {
	status, body, err := c.send(ctx, http.MethodDelete, c.davURL(path), "", 0, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if isSuccess(status) || status == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("delete %s: status %d: %s", path, status, snippet(body))
}

// CreateShareLink creates a public link share for a file path and returns
// the link URL.
func (c *Client) CreateShareLink(ctx context.Context, path string) (string, error) {
	form := url.Values{}
	form.Set("path", "/"+strings.TrimPrefix(path, "/"))
	form.Set("shareType", fmt.Sprintf("%d", shareTypeLink))

	payload := form.Encode()
	status, body, err := c.send(ctx, http.MethodPost, c.base()+sharesPath,
		"application/x-www-form-urlencoded", int64(len(payload)), strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("share %s: %w", path, err)
	}
	if !isSuccess(status) {
		return "", fmt.Errorf("share %s: status %d: %s", path, status, snippet(body))
	}

	link := shareURL(body)
	if link == "" {
		return "", fmt.Errorf("share %s: no url in response: %s", path, snippet(body))
	}
	return link, nil
}

// send performs one request and returns status and capped body. OCS headers
// are always attached; the DAV endpoints ignore them.
func (c *Client) send(ctx context.Context, method, rawURL, contentType string, size int64, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	if size > 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OCS-APIRequest", "true")
	req.SetBasicAuth(c.creds.Username, c.creds.AppPassword)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.creds.BaseURL, "/")
}

// davURL builds the WebDAV URL for a path under the user's root, escaping
// each segment.
func (c *Client) davURL(path string) string {
	segments := splitPath(path)
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base() + davPathPrefix + url.PathEscape(c.creds.Username) + "/" + strings.Join(escaped, "/")
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// shareURL digs the link URL out of a shares API response. The envelope is
// parsed tolerantly; only ocs.data.url matters.
func shareURL(raw []byte) string {
	var envelope struct {
		OCS struct {
			Data map[string]any `json:"data"`
		} `json:"ocs"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	if u, ok := envelope.OCS.Data["url"].(string); ok {
		return u
	}
	return ""
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func snippet(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max]
	}
	return s
}

// progressReader reports the running byte count to fn as the body drains.
type progressReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.fn(p.n)
	}
	return n, err
}
