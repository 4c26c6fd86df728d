package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/gobili/internal/backoff"
	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/logger"
)

// streamServer serves data the way a media CDN does, with knobs for the
// failure modes the fetcher has to survive.
type streamServer struct {
	data []byte

	honorRange       bool
	failNegotiations int // first n requests answer 503
	abortOnHit       int // this request dies after abortAfter body bytes
	abortAfter       int
	stallOnHit       int // this request stalls after abortAfter body bytes

	mu      sync.Mutex
	hits    int
	ranges  []string
	headers []http.Header
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits++
	hit := s.hits
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	if hit <= s.failNegotiations {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	start := 0
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" && s.honorRange {
		fmt.Sscanf(rng, "bytes=%d-", &start)
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(s.data)-1, len(s.data)))
	}
	body := s.data[start:]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	switch hit {
	case s.abortOnHit:
		w.Write(body[:s.abortAfter])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	case s.stallOnHit:
		w.Write(body[:s.abortAfter])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		return
	}
	w.Write(body)
}

func (s *streamServer) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, append([]string(nil), s.ranges...)
}

type recordingObserver struct {
	mu     sync.Mutex
	phases []domain.TransferPhase
	last   int64
}

func (o *recordingObserver) PhaseChanged(_ domain.StreamKind, p domain.TransferPhase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) Progress(_ domain.StreamKind, written, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = written
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func testFetchOptions() FetchOptions {
	return FetchOptions{
		RetryLimit:       3,
		Backoff:          backoff.Policy{Base: time.Millisecond, Rand: func() float64 { return 0 }},
		StreamRetryPause: time.Millisecond,
		ChunkSize:        64 * 1024,
	}
}

func newTestFetcher(fs afero.Fs, opts FetchOptions) (*Fetcher, *bytes.Buffer) {
	var logs bytes.Buffer
	log := logger.NewWriter(&logs, logger.LevelDebug)
	return NewFetcher(NewStreamClient(time.Second), NewFileWriter(fs), log, opts), &logs
}

func readFile(t *testing.T, fs afero.Fs, path string) []byte {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return b
}

func TestFetch_FreshDownloadSurvivesDisconnect(t *testing.T) {
	data := payload(10_000_000)
	srv := &streamServer{data: data, honorRange: true, abortOnHit: 2, abortAfter: 3_000_000}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	fetcher, logs := newTestFetcher(fs, testFetchOptions())
	obs := &recordingObserver{}
	fetcher = fetcher.WithObserver(obs)

	header := http.Header{}
	header.Set("Referer", "https://www.bilibili.com/video/BV1xx411c7mD")

	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind:   domain.StreamVideo,
		URL:    ts.URL + "/video.m4s",
		Path:   "/out/video.m4s",
		Header: header,
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Completed())
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, data, readFile(t, fs, "/out/video.m4s"))

	_, ranges := srv.snapshot()
	assert.Equal(t, []string{"", "", "bytes=3000000-"}, ranges)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", srv.headers[2].Get("Referer"))

	assert.Equal(t, 1, strings.Count(logs.String(), "] retry "), logs.String())
	assert.Equal(t, []domain.TransferPhase{
		domain.PhaseNotStarted,
		domain.PhaseSizeNegotiated,
		domain.PhaseTransferring,
		domain.PhaseCompleted,
	}, obs.phases)
	assert.Equal(t, int64(len(data)), obs.last)
}

func TestFetch_ResumesFromPartialFile(t *testing.T) {
	data := payload(10_000_000)
	srv := &streamServer{data: data, honorRange: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/audio.m4s", data[:4_000_000], 0644))

	fetcher, logs := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamAudio,
		URL:  ts.URL + "/audio.m4s",
		Path: "/out/audio.m4s",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, data, readFile(t, fs, "/out/audio.m4s"))

	hits, ranges := srv.snapshot()
	assert.Equal(t, 2, hits)
	assert.Equal(t, "bytes=4000000-", ranges[1])
	assert.Contains(t, logs.String(), "resuming at")
	assert.NotContains(t, logs.String(), "] retry ")
}

func TestFetch_AlreadyComplete(t *testing.T) {
	data := payload(100_000)
	srv := &streamServer{data: data, honorRange: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/video.m4s", data, 0644))

	fetcher, _ := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, int64(len(data)), res.Size)

	hits, ranges := srv.snapshot()
	assert.Equal(t, 1, hits, "only the size negotiation should reach the server")
	assert.Equal(t, "", ranges[0])
}

func TestFetch_RangeNeverHonored(t *testing.T) {
	data := payload(10_000_000)
	srv := &streamServer{data: data, honorRange: false}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	prefix := data[:4_000_000]
	require.NoError(t, afero.WriteFile(fs, "/out/video.m4s", prefix, 0644))

	opts := testFetchOptions()
	fetcher, logs := newTestFetcher(fs, opts)
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	assert.False(t, res.Completed())
	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.ErrorIs(t, res.Err, domain.ErrRetriesExhausted)
	assert.ErrorIs(t, res.Err, domain.ErrRangeUnsupported)

	var terr *domain.TransferError
	require.ErrorAs(t, res.Err, &terr)
	assert.Equal(t, int64(len(data)), terr.ExpectedSize)
	assert.Equal(t, int64(len(prefix)), terr.BytesWritten)
	assert.Equal(t, ts.URL, terr.URL)

	assert.Equal(t, prefix, readFile(t, fs, "/out/video.m4s"))

	hits, _ := srv.snapshot()
	assert.Equal(t, 1+int(opts.RetryLimit)+1, hits)
	assert.Equal(t, int(opts.RetryLimit), strings.Count(logs.String(), "] retry "))
}

func TestFetch_SizeMismatchIsTerminal(t *testing.T) {
	var hits int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()

		size := 1000
		if n > 1 {
			size = 1200
		}
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.Write(payload(size))
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	fetcher, logs := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamAudio,
		URL:  ts.URL,
		Path: "/out/audio.m4s",
	})

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.ErrorIs(t, res.Err, domain.ErrSizeMismatch)
	assert.NotErrorIs(t, res.Err, domain.ErrRetriesExhausted)
	assert.Contains(t, logs.String(), "size mismatch")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits, "a size mismatch must not be retried")
}

func TestFetch_FilesystemErrorIsTerminal(t *testing.T) {
	srv := &streamServer{data: payload(10_000), honorRange: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	fetcher, _ := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.ErrorIs(t, res.Err, domain.ErrFilesystem)
	assert.NotErrorIs(t, res.Err, domain.ErrRetriesExhausted)

	hits, _ := srv.snapshot()
	assert.Equal(t, 2, hits)
}

func TestFetch_NegotiationRecovers(t *testing.T) {
	data := payload(50_000)
	srv := &streamServer{data: data, honorRange: true, failNegotiations: 2}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	fetcher, logs := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, data, readFile(t, fs, "/out/video.m4s"))
	assert.Equal(t, 2, strings.Count(logs.String(), "could not determine size"))
	assert.Equal(t, 2, strings.Count(logs.String(), "] retry "))
}

func TestFetch_NegotiationExhausted(t *testing.T) {
	srv := &streamServer{data: payload(10), failNegotiations: 100}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	opts := testFetchOptions()
	opts.RetryLimit = 1
	fetcher, _ := newTestFetcher(afero.NewMemMapFs(), opts)
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	assert.ErrorIs(t, res.Err, domain.ErrNegotiation)
	assert.ErrorIs(t, res.Err, domain.ErrRetriesExhausted)

	var terr *domain.TransferError
	require.ErrorAs(t, res.Err, &terr)
	assert.Equal(t, int64(-1), terr.ExpectedSize)
	assert.Equal(t, uint(2), terr.Attempts)
}

func TestFetch_ReadTimeoutResumes(t *testing.T) {
	data := payload(200_000)
	srv := &streamServer{data: data, honorRange: true, stallOnHit: 2, abortAfter: 80_000}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	opts := testFetchOptions()
	opts.ReadTimeout = 100 * time.Millisecond

	fs := afero.NewMemMapFs()
	fetcher, _ := newTestFetcher(fs, opts)
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamAudio,
		URL:  ts.URL,
		Path: "/out/audio.m4s",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, data, readFile(t, fs, "/out/audio.m4s"))

	_, ranges := srv.snapshot()
	require.Len(t, ranges, 3)
	assert.Equal(t, "bytes=80000-", ranges[2])
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := &streamServer{data: payload(10), honorRange: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher, _ := newTestFetcher(afero.NewMemMapFs(), testFetchOptions())
	res := fetcher.Fetch(ctx, domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotErrorIs(t, res.Err, domain.ErrRetriesExhausted)
}

func TestFetch_OversizedLocalFileRestarts(t *testing.T) {
	data := payload(1000)
	srv := &streamServer{data: data, honorRange: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/video.m4s", payload(1500), 0644))

	fetcher, logs := newTestFetcher(fs, testFetchOptions())
	res := fetcher.Fetch(context.Background(), domain.TransferRequest{
		Kind: domain.StreamVideo,
		URL:  ts.URL,
		Path: "/out/video.m4s",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, data, readFile(t, fs, "/out/video.m4s"))

	_, ranges := srv.snapshot()
	assert.Equal(t, []string{"", ""}, ranges)
	assert.Equal(t, 1, strings.Count(logs.String(), "starting over"))
}
