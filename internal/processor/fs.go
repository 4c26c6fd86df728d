package processor

import (
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// maxNameBytes keeps names under common filesystem limits with room for a suffix.
const maxNameBytes = 200

// sanitizeFileName turns a video title or uploader name into something every
// OS accepts as a single path element.
func sanitizeFileName(name string) string {
	res := html.UnescapeString(name)

	// Windows/Linux/macOS safety
	res = badChars.ReplaceAllString(res, "_")
	res = strings.TrimSpace(res)

	// Windows refuses trailing dots and spaces
	res = strings.TrimRight(res, ". ")

	if len(res) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(res[cut]) {
			cut--
		}
		res = strings.TrimSpace(res[:cut])
	}
	return res
}

// moveCrossDevice handles moving files between different mount points/filesystems
func moveCrossDevice(fs afero.Fs, sourcePath, destPath string) error {
	src, err := fs.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	tempDest := filepath.Join(filepath.Dir(destPath), "."+filepath.Base(destPath)+".tmp")

	dst, err := fs.Create(tempDest)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		fs.Remove(tempDest)
		return err
	}

	if err := dst.Sync(); err != nil {
		fs.Remove(tempDest)
		return err
	}

	// Explicitly close before renaming and deleting the source
	src.Close()
	dst.Close()

	if err := fs.Rename(tempDest, destPath); err != nil {
		fs.Remove(tempDest)
		return err
	}

	// Remove the original file only after copy success
	return fs.Remove(sourcePath)
}

// moveFile handles the logic of moving a file, falling back to cross-device copy if rename fails.
func moveFile(fs afero.Fs, source, dest string) error {
	err := fs.Rename(source, dest)
	if err == nil {
		return nil
	}

	// If it fails (likely cross-device), use our helper
	return moveCrossDevice(fs, source, dest)
}
