package imagepkg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DownloadTimeout bounds a remote photo fetch.
const DownloadTimeout = 10 * time.Second

// DownloadPhoto fetches a photo from url, reading at most limit bytes, and
// checks its header against maxPixels. The raw bytes are returned for
// staging on disk.
func DownloadPhoto(ctx context.Context, url string, limit int64, maxPixels int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhoto, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhoto, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: non-200 response: %s", ErrPhoto, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhoto, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrPhoto, limit)
	}
	if err := CheckPhoto(bytes.NewReader(body), maxPixels); err != nil {
		return nil, err
	}
	return body, nil
}
