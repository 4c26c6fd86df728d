package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/datallboy/gobili/internal/domain"
)

// FileWriter owns the destination files of stream transfers. The filesystem
// is the only record of transfer progress, so every size question is answered
// by a fresh stat rather than by in-memory counters.
type FileWriter struct {
	fs afero.Fs
}

func NewFileWriter(fs afero.Fs) *FileWriter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileWriter{fs: fs}
}

// Size returns the on-disk length of path, or 0 when it does not exist.
func (fw *FileWriter) Size(path string) (int64, error) {
	info, err := fw.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: stat %s: %v", domain.ErrFilesystem, path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", domain.ErrFilesystem, path)
	}
	return info.Size(), nil
}

// Open returns a handle positioned for writing at offset. A non-zero offset
// appends to what is already there; offset 0 truncates any stale data.
func (fw *FileWriter) Open(path string, offset int64) (afero.File, error) {
	if err := fw.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create dir for %s: %v", domain.ErrFilesystem, path, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := fw.fs.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrFilesystem, path, err)
	}
	return f, nil
}
