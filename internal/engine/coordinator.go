package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/logger"
)

// maxStreams is one video track plus one audio track.
const maxStreams = 2

// Coordinator runs the fetches for one job side by side and collects every
// outcome. A failing stream does not cancel its sibling.
type Coordinator struct {
	fetcher *Fetcher
	log     *logger.Logger
}

func NewCoordinator(fetcher *Fetcher, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{fetcher: fetcher, log: log}
}

// Run fetches every request concurrently and waits for all of them to reach a
// terminal phase. The returned error covers invalid input only; stream
// failures are reported through the report.
func (c *Coordinator) Run(ctx context.Context, reqs []domain.TransferRequest) (*domain.TransferReport, error) {
	if err := validateRequests(reqs); err != nil {
		return nil, err
	}

	results := make([]domain.TransferResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(len(reqs))

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = c.fetcher.Fetch(ctx, req)
			return nil
		})
	}
	// Workers never return errors; Wait is only the join
	_ = g.Wait()

	report := domain.NewTransferReport()
	for _, res := range results {
		report.Results[res.Kind] = res
	}

	if failed := report.Failed(); len(failed) > 0 {
		c.log.Warn("%d of %d stream(s) failed", len(failed), len(reqs))
	}
	return report, nil
}

func validateRequests(reqs []domain.TransferRequest) error {
	if len(reqs) == 0 {
		return fmt.Errorf("no streams to transfer")
	}
	if len(reqs) > maxStreams {
		return fmt.Errorf("at most %d streams can be transferred together, got %d", maxStreams, len(reqs))
	}

	paths := make(map[string]struct{}, len(reqs))
	kinds := make(map[domain.StreamKind]struct{}, len(reqs))
	for _, r := range reqs {
		if r.URL == "" || r.Path == "" {
			return fmt.Errorf("%s stream needs both a url and a path", r.Kind)
		}
		if _, dup := paths[r.Path]; dup {
			return fmt.Errorf("two streams share the destination %s", r.Path)
		}
		if _, dup := kinds[r.Kind]; dup {
			return fmt.Errorf("%s stream requested twice", r.Kind)
		}
		paths[r.Path] = struct{}{}
		kinds[r.Kind] = struct{}{}
	}
	return nil
}
