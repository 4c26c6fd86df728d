package cache

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type info struct {
	Title string `json:"title"`
	CID   int64  `json:"cid"`
}

func TestFileCache_RoundTrip(t *testing.T) {
	c := NewFileCache(afero.NewMemMapFs(), "/downloads")

	assert.False(t, c.Exists(VideoInfoKey))
	require.NoError(t, c.PutJSON(VideoInfoKey, info{Title: "字幕君", CID: 62131}))
	assert.True(t, c.Exists(VideoInfoKey))

	raw, err := c.Get(VideoInfoKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"title\": \"字幕君\"")

	var got info
	require.NoError(t, c.GetJSON(VideoInfoKey, &got))
	assert.Equal(t, info{Title: "字幕君", CID: 62131}, got)
}

func TestFileCache_Missing(t *testing.T) {
	c := NewFileCache(afero.NewMemMapFs(), "/downloads")

	_, err := c.Get(VideoStreamInfoKey)
	assert.Error(t, err)

	var got info
	assert.Error(t, c.GetJSON(VideoStreamInfoKey, &got))
}

func TestFileCache_BadJSON(t *testing.T) {
	c := NewFileCache(afero.NewMemMapFs(), "/downloads")
	require.NoError(t, c.Put(VideoInfoKey, []byte("{not json")))

	var got info
	assert.Error(t, c.GetJSON(VideoInfoKey, &got))
}
