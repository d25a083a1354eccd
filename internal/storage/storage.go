// Package storage handles package archive files: temporary uploads with
// checksum computation, and the permanent download directory.
package storage

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Checksums holds the hex-encoded digests of an archive, computed over the
// same byte stream by three independent accumulators.
type Checksums struct {
	MD5    string `json:"md5"`
	SHA1   string `json:"sha1"`
	SHA256 string `json:"sha256"`
}

// TempFile describes an uploaded archive stored in the temporary directory.
type TempFile struct {
	Path      string
	Size      int64
	Checksums Checksums
}

// Store manages the temporary upload directory and the permanent download
// directory for package archives.
type Store struct {
	tmpDir      string
	downloadDir string
	logger      *slog.Logger
}

// New creates a Store writing uploads to tmpDir and published archives to
// downloadDir.
func New(tmpDir, downloadDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tmpDir: tmpDir, downloadDir: downloadDir, logger: logger}
}

// DownloadDir returns the permanent archive directory.
func (s *Store) DownloadDir() string { return s.downloadDir }

// StoreTemporary writes the archive bytes to a uniquely named file in the
// temporary directory, preserving the original extension, and computes the
// MD5, SHA-1 and SHA-256 digests in a single pass.
func (s *Store) StoreTemporary(r io.Reader, suggestedFilename string) (*TempFile, error) {
	ext := filepath.Ext(suggestedFilename)
	base := strings.TrimSuffix(filepath.Base(suggestedFilename), ext)
	if base == "" {
		base = "upload"
	}

	f, err := os.CreateTemp(s.tmpDir, base+"-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file in %s: %w", s.tmpDir, err)
	}
	defer f.Close()

	md5Sum := md5.New()
	sha1Sum := sha1.New()
	sha256Sum := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, md5Sum, sha1Sum, sha256Sum), r)
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp file %s: %w", f.Name(), err)
	}

	return &TempFile{
		Path: f.Name(),
		Size: size,
		Checksums: Checksums{
			MD5:    hex.EncodeToString(md5Sum.Sum(nil)),
			SHA1:   hex.EncodeToString(sha1Sum.Sum(nil)),
			SHA256: hex.EncodeToString(sha256Sum.Sum(nil)),
		},
	}, nil
}

// PublishFile moves a temporary archive into the download directory under
// its final name. An existing file with the same name is overwritten, so the
// last publish wins for a given filename. Returns the final path.
func (s *Store) PublishFile(tempPath, finalFilename string) (string, error) {
	info, err := os.Stat(s.downloadDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("download directory %s does not exist", s.downloadDir)
	}
	destPath := filepath.Join(s.downloadDir, finalFilename)
	s.logger.Info("moving package archive", "from", tempPath, "to", destPath)
	if _, err := os.Stat(destPath); err == nil {
		s.logger.Info("removing already published archive", "path", destPath)
		if err := os.Remove(destPath); err != nil {
			return "", fmt.Errorf("remove published archive %s: %w", destPath, err)
		}
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		// Rename fails across filesystems; fall back to copy and delete.
		if err := copyFile(tempPath, destPath); err != nil {
			return "", fmt.Errorf("store package archive in %s: %w", s.downloadDir, err)
		}
		os.Remove(tempPath)
	}
	return destPath, nil
}

// FileName builds the permanent archive name for a package version,
// preserving the extension of the uploaded file:
// <packageName>-<version><ext>.
func FileName(tempPath, packageName, version string) string {
	return packageName + "-" + version + filepath.Ext(tempPath)
}

// RemoveArchive deletes a published archive from the download directory.
// A missing file is logged but not an error.
func (s *Store) RemoveArchive(filename string) {
	path := filepath.Join(s.downloadDir, filename)
	if _, err := os.Stat(path); err != nil {
		s.logger.Warn("published package archive not found", "path", path)
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Error("removing published package archive", "path", path, "error", err)
		return
	}
	s.logger.Info("removed published package archive", "path", path)
}

// Cleanup removes a temporary file if it still exists. Safe to call on
// every exit path of a publish request.
func Cleanup(tempPath string) {
	if tempPath == "" {
		return
	}
	if _, err := os.Stat(tempPath); err == nil {
		os.Remove(tempPath)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
