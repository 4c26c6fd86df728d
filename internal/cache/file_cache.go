package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	VideoInfoKey       = "video_info.json"
	VideoStreamInfoKey = "video_stream_info.json"
)

// FileCache keeps API responses next to the downloads as pretty-printed
// JSON so they can be inspected or reused without another request.
type FileCache struct {
	fs  afero.Fs
	Dir string
}

func NewFileCache(fs afero.Fs, dir string) *FileCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileCache{fs: fs, Dir: dir}
}

func (f *FileCache) Get(key string) ([]byte, error) {
	return afero.ReadFile(f.fs, filepath.Join(f.Dir, key))
}

func (f *FileCache) Put(key string, data []byte) error {
	// Ensure the directory exists
	if err := f.fs.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, filepath.Join(f.Dir, key), data, 0644)
}

func (f *FileCache) Exists(key string) bool {
	_, err := f.fs.Stat(filepath.Join(f.Dir, key))
	return err == nil
}

// PutJSON stores v indented, keeping non-ASCII titles readable.
func (f *FileCache) PutJSON(key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return f.Put(key, data)
}

// GetJSON decodes a stored entry into v.
func (f *FileCache) GetJSON(key string, v any) error {
	data, err := f.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
