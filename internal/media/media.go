// Package media manages the per-run download workspace. Files land in a
// deterministic per-post directory and the whole account subtree is removed
// at the end of every run, successful or not.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Workspace owns one root directory for downloaded attachments.
type Workspace struct {
	root       string
	httpClient *http.Client
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{
		root:       root,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// PostDir returns the deterministic directory for one post's media.
func (w *Workspace) PostDir(account, statusID string) string {
	return filepath.Join(w.root, account, statusID)
}

// DownloadFile streams url into the post directory and returns the local
// path. The file name is taken from the URL path.
func (w *Workspace) DownloadFile(ctx context.Context, rawURL, account, statusID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "media"
	}
	dir := w.PostDir(account, statusID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// Fetch downloads url into memory and returns the bytes with the server's
// content type. Used for photo uploads, which are never kept on disk.
func (w *Workspace) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Cleanup removes everything downloaded for account this run.
func (w *Workspace) Cleanup(account string) error {
	if account == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(w.root, account))
}
