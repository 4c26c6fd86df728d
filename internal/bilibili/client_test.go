package bilibili

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/gobili/internal/infra/config"
)

const viewBody = `{"code":0,"message":"0","data":{"bvid":"BV1xx411c7mD","aid":2,"cid":62131,
"title":"字幕君交流场所","desc":"hello","duration":2403,"owner":{"mid":2,"name":"碧诗"}}}`

const playurlBody = `{"code":0,"message":"0","data":{"quality":80,
"accept_quality":[80,64,32,116],"accept_description":["高清 1080P","高清 720P","清晰 480P","高清 1080P60"],
"dash":{"duration":2403,
"video":[{"id":64,"baseUrl":"https://cdn/v64","bandwidth":900},{"id":80,"baseUrl":"https://cdn/v80a","bandwidth":1000},{"id":80,"baseUrl":"https://cdn/v80b","bandwidth":2000}],
"audio":[{"id":30216,"baseUrl":"https://cdn/a1","bandwidth":60000},{"id":30280,"baseUrl":"https://cdn/a3","bandwidth":190000}]}}}`

func testConfig(base string) config.BilibiliConfig {
	return config.BilibiliConfig{
		VideoInfoURL:   base + "/x/web-interface/view",
		VideoStreamURL: base + "/x/player/playurl",
		SessData:       "abc123",
		UserAgent:      "gobili-test",
		Referer:        "https://www.bilibili.com",
		Origin:         "https://www.bilibili.com",
		Timeout:        5 * time.Second,
		RetryMax:       2,
	}
}

func newTestClient(base string) *Client {
	c := New(testConfig(base), nil)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestGetVideoInfo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/web-interface/view", r.URL.Path)
		assert.Equal(t, "BV1xx411c7mD", r.URL.Query().Get("bvid"))
		assert.Equal(t, "SESSDATA=abc123", r.Header.Get("Cookie"))
		assert.Equal(t, "gobili-test", r.Header.Get("User-Agent"))
		w.Write([]byte(viewBody))
	}))
	defer ts.Close()

	info, err := newTestClient(ts.URL).GetVideoInfo(context.Background(), "BV1xx411c7mD")
	require.NoError(t, err)
	assert.Equal(t, int64(62131), info.CID)
	assert.Equal(t, "碧诗", info.Owner.Name)
	assert.Equal(t, int64(2403), info.Duration)

	v := info.ToDomain()
	assert.Equal(t, "BV1xx411c7mD", v.BVID)
	assert.Equal(t, "碧诗", v.Owner)
}

func TestGetVideoInfo_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-404,"message":"啥都木有","data":null}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).GetVideoInfo(context.Background(), "BVnope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -404, apiErr.Code)
}

func TestGetStreamInfo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "62131", q.Get("cid"))
		assert.Equal(t, "80", q.Get("fnval"))
		assert.Equal(t, "0", q.Get("qn"))
		assert.Equal(t, "1", q.Get("fourk"))
		assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", r.Header.Get("Referer"))
		w.Write([]byte(playurlBody))
	}))
	defer ts.Close()

	info, err := newTestClient(ts.URL).GetStreamInfo(context.Background(), "BV1xx411c7mD", 62131)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	v, ok := info.BestVideo()
	require.True(t, ok)
	assert.Equal(t, "https://cdn/v80b", v.BaseURL)

	a, ok := info.BestAudio()
	require.True(t, ok)
	assert.Equal(t, "https://cdn/a3", a.BaseURL)

	qs := info.AcceptedQualities()
	require.Len(t, qs, 4)
	assert.Equal(t, Quality{ID: 116, Description: "高清 1080P60"}, qs[0])
	assert.Equal(t, "高清 720P", info.QualityName(64))
	assert.Equal(t, "Unknown", info.QualityName(1))
}

func TestBest_Empty(t *testing.T) {
	_, ok := best(nil)
	assert.False(t, ok)

	_, ok = best([]Stream{{ID: 80}})
	assert.False(t, ok, "streams without a url are skipped")
}

func TestStreamHeaders(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.SessData = ""
	cfg.Referer = "https://www.bilibili.com/"

	h := New(cfg, nil).StreamHeaders("BV1")
	assert.Equal(t, "https://www.bilibili.com/video/BV1", h.Get("Referer"))
	assert.Equal(t, "https://www.bilibili.com", h.Get("Origin"))
	assert.Empty(t, h.Get("Cookie"))
}
