package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
)

// Probe checks a remote job once. It returns done when the job completed.
type Probe func(ctx context.Context) (done bool, err error)

// Poller waits for remote jobs. Time is injectable so tests can run a
// five-minute poll instantly.
type Poller struct {
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPoller(m *metrics.Metrics) *Poller {
	return &Poller{
		now:     time.Now,
		after:   time.After,
		metrics: m,
		logger:  slog.Default().With("component", "poller"),
	}
}

// Poll probes immediately, then once per interval, until the probe reports
// done, the probe errors, the timeout elapses (ErrPollTimeout), or ctx is
// cancelled. Waiting never overshoots the deadline.
func (p *Poller) Poll(ctx context.Context, job string, cfg config.PollConfig, probe Probe) error {
	start := p.now()
	deadline := start.Add(cfg.Timeout)
	attempts := 0

	for {
		attempts++
		done, err := probe(ctx)
		if err != nil {
			p.metrics.ObservePoll(job, "error", p.now().Sub(start))
			return fmt.Errorf("polling %s (attempt %d): %w", job, attempts, err)
		}
		if done {
			elapsed := p.now().Sub(start)
			p.metrics.ObservePoll(job, "completed", elapsed)
			p.logger.Info("job completed", "job", job, "attempts", attempts, "elapsed", elapsed)
			return nil
		}

		now := p.now()
		if !now.Before(deadline) {
			p.metrics.ObservePoll(job, "timeout", now.Sub(start))
			return fmt.Errorf("%s not completed after %v (%d attempts): %w",
				job, cfg.Timeout, attempts, apperrors.ErrPollTimeout)
		}
		wait := min(cfg.Interval, deadline.Sub(now))
		if attempts%20 == 0 {
			p.logger.Debug("still waiting", "job", job, "attempts", attempts, "remaining", deadline.Sub(now))
		}

		select {
		case <-ctx.Done():
			p.metrics.ObservePoll(job, "cancelled", p.now().Sub(start))
			return fmt.Errorf("polling %s cancelled: %w", job, ctx.Err())
		case <-p.after(wait):
		}
	}
}
