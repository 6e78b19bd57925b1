package onebot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/utils"
)

const (
	downloadTimeout = 30 * time.Second
	maxRedirects    = 5
)

// Downloader fetches media referenced by messages into a local directory so
// downstream consumers work with file paths instead of expiring URLs.
type Downloader struct {
	dir    string
	client *http.Client
	log    *zap.SugaredLogger
}

// NewDownloader stores fetched files under dir. An empty dir falls back to
// the default media path.
func NewDownloader(dir string, log *zap.SugaredLogger) *Downloader {
	if dir == "" {
		dir = utils.GetMediaPath()
	}
	return &Downloader{
		dir: dir,
		client: &http.Client{
			Timeout: downloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		log: log,
	}
}

// Fetch downloads src and returns the local path. Backends sometimes hand
// out local paths or file:// URLs for media they already cached; those are
// copied instead of fetched.
func (d *Downloader) Fetch(ctx context.Context, src, name string) (string, error) {
	if src == "" {
		return "", errors.New("empty media url")
	}
	if local, ok := localPath(src); ok {
		return d.copyLocal(local, name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	dest, err := d.destPath(src, name)
	if err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write media file: %w", err)
	}
	d.log.Debugf("fetched media %s -> %s", src, dest)
	return dest, nil
}

func localPath(src string) (string, bool) {
	if strings.HasPrefix(src, "file://") {
		return strings.TrimPrefix(src, "file://"), true
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "base64://") {
		return "", false
	}
	if _, err := os.Stat(src); err == nil {
		return src, true
	}
	return "", false
}

func (d *Downloader) copyLocal(src, name string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open local media: %w", err)
	}
	defer in.Close()

	if name == "" {
		name = filepath.Base(src)
	}
	dest, err := d.destPath(src, name)
	if err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("copy media file: %w", err)
	}
	return dest, nil
}

// destPath builds a collision-resistant path inside the media directory.
func (d *Downloader) destPath(src, name string) (string, error) {
	if _, err := utils.EnsureDir(d.dir); err != nil {
		return "", fmt.Errorf("ensure media dir: %w", err)
	}
	if name == "" {
		if u, err := url.Parse(src); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = "media"
	}
	name = fmt.Sprintf("%d_%s", time.Now().UnixNano(), utils.SafeFilename(name))
	return filepath.Join(d.dir, name), nil
}
