package bilibili

import (
	"fmt"
	"sort"
	"time"

	"github.com/datallboy/gobili/internal/domain"
)

// envelope is the wrapper every web API response comes in.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is a response that arrived intact but carried a non-zero code,
// e.g. -404 for an unknown BV id or -101 for a missing login.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili api %s: code %d: %s", e.Endpoint, e.Code, e.Message)
}

type Owner struct {
	MID  int64  `json:"mid"`
	Name string `json:"name"`
}

// VideoInfo is the subset of /x/web-interface/view we use.
type VideoInfo struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Pic      string `json:"pic"`
	Duration int64  `json:"duration"`
	Owner    Owner  `json:"owner"`
}

func (v *VideoInfo) ToDomain() *domain.Video {
	return &domain.Video{
		BVID:        v.BVID,
		CID:         v.CID,
		Title:       v.Title,
		Description: v.Desc,
		Owner:       v.Owner.Name,
		Duration:    v.Duration,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Stream is one DASH representation.
type Stream struct {
	ID        int      `json:"id"`
	BaseURL   string   `json:"baseUrl"`
	BackupURL []string `json:"backupUrl,omitempty"`
	Bandwidth int64    `json:"bandwidth"`
	MimeType  string   `json:"mimeType"`
	Codecs    string   `json:"codecs"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
}

type Dash struct {
	Duration int64    `json:"duration"`
	Video    []Stream `json:"video"`
	Audio    []Stream `json:"audio"`
}

// StreamInfo is the subset of /x/player/playurl we use.
type StreamInfo struct {
	Quality           int      `json:"quality"`
	AcceptQuality     []int    `json:"accept_quality"`
	AcceptDescription []string `json:"accept_description"`
	Dash              Dash     `json:"dash"`
}

type Quality struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// AcceptedQualities pairs each offered quality id with its label, highest first.
func (s *StreamInfo) AcceptedQualities() []Quality {
	out := make([]Quality, 0, len(s.AcceptQuality))
	for i, id := range s.AcceptQuality {
		desc := "Unknown"
		if i < len(s.AcceptDescription) {
			desc = s.AcceptDescription[i]
		}
		out = append(out, Quality{ID: id, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// QualityName returns the label for a quality id, or "Unknown".
func (s *StreamInfo) QualityName(id int) string {
	for _, q := range s.AcceptedQualities() {
		if q.ID == id {
			return q.Description
		}
	}
	return "Unknown"
}

func (s *StreamInfo) BestVideo() (Stream, bool) { return best(s.Dash.Video) }
func (s *StreamInfo) BestAudio() (Stream, bool) { return best(s.Dash.Audio) }

// best picks the highest (id, bandwidth) stream that has a URL.
func best(streams []Stream) (Stream, bool) {
	var top Stream
	found := false
	for _, st := range streams {
		if st.BaseURL == "" {
			continue
		}
		if !found || st.ID > top.ID || (st.ID == top.ID && st.Bandwidth > top.Bandwidth) {
			top = st
			found = true
		}
	}
	return top, found
}
