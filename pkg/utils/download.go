package utils

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mynahbot/mynah/pkg/logger"
)

var downloadClient = &http.Client{Timeout: 2 * time.Minute}

// DownloadFile fetches url into the system temp directory under filename
// and returns the local path, or "" on failure. Failures are logged, not
// returned: callers treat a missing download as a skipped attachment.
func DownloadFile(url, filename, loggerPrefix string) string {
	resp, err := downloadClient.Get(url)
	if err != nil {
		logger.ErrorCF(loggerPrefix, "Download failed", map[string]any{
			"url": url, "error": err.Error(),
		})
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.ErrorCF(loggerPrefix, "Download failed", map[string]any{
			"url": url, "status": resp.StatusCode,
		})
		return ""
	}

	localPath := filepath.Join(os.TempDir(), "mynah_media", SanitizeFilename(filename))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		logger.ErrorCF(loggerPrefix, "Download dir create failed", map[string]any{
			"error": err.Error(),
		})
		return ""
	}

	out, err := os.Create(localPath)
	if err != nil {
		logger.ErrorCF(loggerPrefix, "Download file create failed", map[string]any{
			"path": localPath, "error": err.Error(),
		})
		return ""
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(localPath)
		logger.ErrorCF(loggerPrefix, "Download write failed", map[string]any{
			"path": localPath, "error": err.Error(),
		})
		return ""
	}
	return localPath
}
