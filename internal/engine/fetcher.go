package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dustin/go-humanize"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/logger"
)

// Fetcher downloads one stream into one file, resuming from whatever is
// already on disk and retrying transient failures within a single budget.
type Fetcher struct {
	client *http.Client
	writer *FileWriter
	log    *logger.Logger
	obs    Observer
	opts   FetchOptions
}

// NewStreamClient builds the HTTP client used for media transfers. There is
// no overall Client.Timeout: a large stream may legitimately take minutes, so
// body silence is policed by FetchOptions.ReadTimeout instead.
func NewStreamClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = 2 * connectTimeout

	return &http.Client{Transport: transport}
}

func NewFetcher(client *http.Client, writer *FileWriter, log *logger.Logger, opts FetchOptions) *Fetcher {
	if client == nil {
		client = NewStreamClient(0)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.StreamRetryPause <= 0 {
		opts.StreamRetryPause = defaultStreamRetryPause
	}

	return &Fetcher{
		client: client,
		writer: writer,
		log:    log,
		obs:    nopObserver{},
		opts:   opts,
	}
}

// WithObserver returns a copy of f reporting to obs.
func (f *Fetcher) WithObserver(obs Observer) *Fetcher {
	if obs == nil {
		obs = nopObserver{}
	}
	cp := *f
	cp.obs = obs
	return &cp
}

// Fetch runs req to a terminal phase. It never returns a partially filled
// result: the outcome is either Completed with a verified file or Failed
// with a *domain.TransferError.
func (f *Fetcher) Fetch(ctx context.Context, req domain.TransferRequest) domain.TransferResult {
	label := req.Label
	if label == "" {
		label = string(req.Kind)
	}

	state := &transferState{expectedSize: -1, phase: domain.PhaseNotStarted}
	f.obs.PhaseChanged(req.Kind, state.phase)

	err := retry.Do(
		func() error {
			state.attempt++
			return f.step(ctx, req, label, state)
		},
		retry.Context(ctx),
		retry.Attempts(f.opts.RetryLimit+1),
		retry.RetryIf(domain.IsRetryable),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			delay := f.opts.Backoff.DelayFor(state.attempt - 1)
			if errors.Is(err, domain.ErrStreamInterrupted) {
				delay += f.opts.StreamRetryPause
			}
			f.log.Warn("[%s] retry %d/%d in %s: %v", label, state.attempt, f.opts.RetryLimit, delay.Round(time.Millisecond), err)
			return delay
		}),
	)

	if err == nil {
		f.setPhase(req.Kind, state, domain.PhaseCompleted)
		f.log.Info("[%s] completed %s (%s)", label, req.Path, humanize.Bytes(uint64(state.bytesWritten)))
		return domain.TransferResult{
			Kind:  req.Kind,
			URL:   req.URL,
			Path:  req.Path,
			Size:  state.bytesWritten,
			Phase: domain.PhaseCompleted,
		}
	}

	if domain.IsRetryable(err) {
		err = fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, err)
	}

	terr := &domain.TransferError{
		Kind:         req.Kind,
		URL:          req.URL,
		BytesWritten: state.bytesWritten,
		ExpectedSize: state.expectedSize,
		Attempts:     state.attempt,
		Err:          err,
	}
	f.setPhase(req.Kind, state, domain.PhaseFailed)
	f.log.Error("[%s] giving up: %v", label, terr)

	return domain.TransferResult{
		Kind:  req.Kind,
		URL:   req.URL,
		Path:  req.Path,
		Size:  state.bytesWritten,
		Phase: domain.PhaseFailed,
		Err:   terr,
	}
}

// step is one attempt: negotiate if needed, then move the file as far towards
// the expected size as a single response allows.
func (f *Fetcher) step(ctx context.Context, req domain.TransferRequest, label string, state *transferState) error {
	if !state.negotiated() {
		size, err := f.negotiate(ctx, req)
		if err != nil {
			f.log.Warn("[%s] could not determine size: %v", label, err)
			return err
		}
		state.expectedSize = size
		f.setPhase(req.Kind, state, domain.PhaseSizeNegotiated)
		f.log.Debug("[%s] expecting %d bytes", label, size)
	}

	// The file on disk is the only source of truth for where to resume
	pos, err := f.writer.Size(req.Path)
	if err != nil {
		return err
	}
	state.bytesWritten = pos

	if pos > state.expectedSize {
		f.log.Warn("[%s] %s holds %d bytes, more than the expected %d; starting over", label, req.Path, pos, state.expectedSize)
		pos = 0
		state.bytesWritten = 0
	}

	if pos == state.expectedSize {
		f.obs.Progress(req.Kind, pos, state.expectedSize)
		if !state.checkedDisk {
			f.log.Info("[%s] %s already complete", label, req.Path)
		}
		return nil
	}

	if pos > 0 && !state.checkedDisk {
		f.log.Info("[%s] resuming at %s of %s", label, humanize.Bytes(uint64(pos)), humanize.Bytes(uint64(state.expectedSize)))
	}
	state.checkedDisk = true

	if err := f.transfer(ctx, req, state, pos); err != nil {
		return err
	}

	return f.verify(req, label, state)
}

// negotiate learns the authoritative stream length from an unranged GET whose
// body is never read.
func (f *Fetcher) negotiate(ctx context.Context, req domain.TransferRequest) (int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := f.newRequest(reqCtx, req)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrNegotiation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: unexpected status %s", domain.ErrNegotiation, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: response has no content length", domain.ErrNegotiation)
	}
	return resp.ContentLength, nil
}

// transfer issues one (possibly ranged) request and appends its body to the
// destination until the body ends or fails.
func (f *Fetcher) transfer(ctx context.Context, req domain.TransferRequest, state *transferState, pos int64) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := f.newRequest(reqCtx, req)
	if err != nil {
		return err
	}
	if pos > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", pos))
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrStreamInterrupted, err)
	}
	defer resp.Body.Close()

	if pos > 0 && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: requested bytes=%d- and got %s", domain.ErrRangeUnsupported, pos, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %s", domain.ErrStreamInterrupted, resp.Status)
	}

	file, err := f.writer.Open(req.Path, pos)
	if err != nil {
		return err
	}

	f.setPhase(req.Kind, state, domain.PhaseTransferring)

	var body io.Reader = resp.Body
	if f.opts.ReadTimeout > 0 {
		idle := newIdleTimeoutReader(resp.Body, f.opts.ReadTimeout, cancel)
		defer idle.stop()
		body = idle
	}
	// One byte of slack so an over-long body still shows up at verification
	body = io.LimitReader(body, state.expectedSize-pos+1)

	buf := make([]byte, f.opts.ChunkSize)
	var readErr error
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			written, werr := file.Write(buf[:n])
			pos += int64(written)
			state.bytesWritten = pos
			f.obs.Progress(req.Kind, pos, state.expectedSize)
			if werr != nil {
				file.Close()
				return fmt.Errorf("%w: write %s: %v", domain.ErrFilesystem, req.Path, werr)
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				readErr = rerr
			}
			break
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrFilesystem, req.Path, err)
	}

	if readErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: after %d of %d bytes: %v", domain.ErrStreamInterrupted, pos, state.expectedSize, readErr)
	}
	if pos < state.expectedSize {
		return fmt.Errorf("%w: body ended after %d of %d bytes", domain.ErrStreamInterrupted, pos, state.expectedSize)
	}
	return nil
}

// verify re-reads the size from disk rather than trusting the byte counter.
func (f *Fetcher) verify(req domain.TransferRequest, label string, state *transferState) error {
	size, err := f.writer.Size(req.Path)
	if err != nil {
		return err
	}
	state.bytesWritten = size

	if size != state.expectedSize {
		f.log.Error("[%s] size mismatch for %s: have %d bytes, expected %d", label, req.Path, size, state.expectedSize)
		return fmt.Errorf("%w: %s has %d bytes, expected %d", domain.ErrSizeMismatch, req.Path, size, state.expectedSize)
	}
	return nil
}

func (f *Fetcher) newRequest(ctx context.Context, req domain.TransferRequest) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		// A malformed URL will not get better by retrying
		return nil, fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

func (f *Fetcher) setPhase(kind domain.StreamKind, state *transferState, phase domain.TransferPhase) {
	if state.phase == phase {
		return
	}
	state.phase = phase
	f.obs.PhaseChanged(kind, phase)
}

// idleTimeoutReader cancels the request when no bytes arrive for timeout.
type idleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimeoutReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	return &idleTimeoutReader{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, cancel),
	}
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) stop() { r.timer.Stop() }
