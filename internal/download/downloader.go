package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ProgressReader wraps an io.Reader to track transfer progress.
type ProgressReader struct {
	reader    io.Reader
	total     int64
	current   int64
	callback  func(current, total, speed int64)
	lastTime  time.Time
	lastBytes int64
}

// NewProgressReader creates a new progress tracking reader.
func NewProgressReader(reader io.Reader, total int64, callback func(current, total, speed int64)) *ProgressReader {
	return &ProgressReader{
		reader:   reader,
		total:    total,
		callback: callback,
		lastTime: time.Now(),
	}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)

	// Report at most once per second
	now := time.Now()
	if now.Sub(pr.lastTime) >= time.Second {
		elapsed := now.Sub(pr.lastTime)
		bytesDiff := pr.current - pr.lastBytes
		speed := int64(float64(bytesDiff) / elapsed.Seconds())

		if pr.callback != nil {
			pr.callback(pr.current, pr.total, speed)
		}

		pr.lastTime = now
		pr.lastBytes = pr.current
	}

	return n, err
}

// Downloader handles HTTP audio transfers with progress tracking.
type Downloader struct {
	client    *http.Client
	tempDir   string
	targetDir string
	userAgent string
}

// NewDownloader creates a downloader writing temp files under tempDir and
// finished files under targetDir.
func NewDownloader(tempDir, targetDir string) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: 30 * time.Minute, // Long timeout for large files
		},
		tempDir:   tempDir,
		targetDir: targetDir,
		userAgent: "paradigma-player/1.0",
	}
}

// DownloadFile downloads a file with progress tracking and resume support.
// The transfer goes to a temp file and is renamed into place only on success.
func (d *Downloader) DownloadFile(ctx context.Context, url, filename string, progressCallback func(current, total, speed int64)) error {
	tempPath := filepath.Join(d.tempDir, filename+".tmp")
	targetPath := filepath.Join(d.targetDir, filename)

	if _, err := os.Stat(targetPath); err == nil {
		return fmt.Errorf("file already exists: %s", targetPath)
	}

	// Resume a partial transfer if one is lying around
	var resumeBytes int64
	if stat, err := os.Stat(tempPath); err == nil {
		resumeBytes = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", d.userAgent)
	if resumeBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeBytes))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var totalSize int64
	if resumeBytes > 0 && resp.StatusCode == http.StatusPartialContent {
		// Format: "bytes 200-1023/1024"
		contentRange := resp.Header.Get("Content-Range")
		if contentRange != "" {
			var start, end, total int64
			if n, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); n == 3 && err == nil {
				totalSize = total
			}
		}
	} else {
		resumeBytes = 0
		if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
			if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
				totalSize = size
			}
		}
	}

	if err := os.MkdirAll(d.tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	var file *os.File
	if resumeBytes > 0 {
		file, err = os.OpenFile(tempPath, os.O_WRONLY|os.O_APPEND, 0644)
	} else {
		file, err = os.Create(tempPath)
	}
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	progressReader := NewProgressReader(resp.Body, totalSize, func(current, total, speed int64) {
		if progressCallback != nil {
			progressCallback(resumeBytes+current, total, speed)
		}
	})

	if _, err = io.Copy(file, progressReader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	// Move temp file to final location (atomic operation)
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	return nil
}

// CleanupTempFile removes a temporary download file.
func (d *Downloader) CleanupTempFile(filename string) error {
	tempPath := filepath.Join(d.tempDir, filename+".tmp")
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to cleanup temp file: %w", err)
	}
	return nil
}
