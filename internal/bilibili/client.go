// Package bilibili talks to the public web API for video metadata and the
// DASH stream manifest.
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/datallboy/gobili/internal/infra/config"
	"github.com/datallboy/gobili/internal/infra/logger"
)

type Client struct {
	cfg  config.BilibiliConfig
	http *retryablehttp.Client
	log  *logger.Logger
}

func New(cfg config.BilibiliConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = retryLogger{log}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return &Client{cfg: cfg, http: rc, log: log}
}

// retryLogger hides the leveled methods of logger.Logger so retryablehttp
// uses plain Printf instead of its key/value calling convention.
type retryLogger struct{ l *logger.Logger }

func (r retryLogger) Printf(f string, v ...any) { r.l.Printf(f, v...) }

// StreamHeaders are the headers the CDN expects on media requests. Without a
// matching Referer most edges answer 403.
func (c *Client) StreamHeaders(bvid string) http.Header {
	h := http.Header{}
	if c.cfg.UserAgent != "" {
		h.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Referer != "" {
		ref := strings.TrimRight(c.cfg.Referer, "/")
		if bvid != "" {
			ref += "/video/" + bvid
		}
		h.Set("Referer", ref)
	}
	if c.cfg.Origin != "" {
		h.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.SessData != "" {
		h.Set("Cookie", "SESSDATA="+c.cfg.SessData)
	}
	return h
}

// GetVideoInfo looks up title, owner and cid for a BV id.
func (c *Client) GetVideoInfo(ctx context.Context, bvid string) (*VideoInfo, error) {
	params := url.Values{}
	params.Set("bvid", bvid)

	var info VideoInfo
	if err := c.getJSON(ctx, c.cfg.VideoInfoURL, params, c.StreamHeaders(""), &info); err != nil {
		return nil, err
	}
	if info.BVID == "" {
		info.BVID = bvid
	}
	return &info, nil
}

// GetStreamInfo fetches the DASH manifest for one part of a video.
func (c *Client) GetStreamInfo(ctx context.Context, bvid string, cid int64) (*StreamInfo, error) {
	c.log.Info("Fetching stream information for %s (cid %d)", bvid, cid)

	params := url.Values{}
	params.Set("bvid", bvid)
	params.Set("cid", strconv.FormatInt(cid, 10))
	params.Set("qn", "0")
	params.Set("fnval", "80") // DASH
	params.Set("fnver", "0")
	params.Set("fourk", "1")

	var info StreamInfo
	if err := c.getJSON(ctx, c.cfg.VideoStreamURL, params, c.StreamHeaders(bvid), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, header http.Header, out any) error {
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %s", endpoint, resp.Status)
	}

	var body struct {
		envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if body.Code != 0 {
		return &APIError{Endpoint: endpoint, Code: body.Code, Message: body.Message}
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return fmt.Errorf("decode %s: response has no data", endpoint)
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return nil
}
