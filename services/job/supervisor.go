package job

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrLockLost is the context cause set when a lease's lock expires or is
// taken over while the run is still going.
var ErrLockLost = errors.New("run lock lost")

// Lease is proof that the holder is the only run of a (campaign, kind).
// Release is idempotent.
type Lease struct {
	CampaignID string
	Kind       LockKind

	once     sync.Once
	release  func()
	lostOnce sync.Once
	lost     chan struct{}
}

func newLease(campaignID string, kind LockKind) *Lease {
	return &Lease{CampaignID: campaignID, Kind: kind, lost: make(chan struct{})}
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Lost is closed when the locker reports the lock gone.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Bind derives a context that is cancelled with ErrLockLost as cause when
// the lock is lost.
func (l *Lease) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if l == nil || l.lost == nil {
		return ctx, func() { cancel(nil) }
	}
	go func() {
		select {
		case <-l.lost:
			cancel(ErrLockLost)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// Supervisor admits runs one per (campaign, kind). A second attempt is
// rejected, never queued.
type Supervisor struct {
	locker Locker
	jobs   *Service
}

func NewSupervisor(locker Locker, jobs *Service) *Supervisor {
	return &Supervisor{locker: locker, jobs: jobs}
}

// TryStart returns a lease when no other run of kind is active for the
// campaign. Callers must `defer lease.Release()`.
//
// Jobs still PENDING or RUNNING once the lock is held belong to a dead
// owner and are failed as interrupted before the lease is handed out.
func (s *Supervisor) TryStart(ctx context.Context, campaignID string, kind LockKind) (*Lease, bool, error) {
	lease := newLease(campaignID, kind)
	release, ok, err := s.locker.Acquire(ctx, campaignID, kind, lease.markLost)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		zap.L().Info("run rejected, lock held",
			zap.String("campaign_id", campaignID), zap.String("kind", string(kind)))
		return nil, false, nil
	}
	lease.release = release

	if s.jobs != nil {
		if _, err := s.interruptOrphans(ctx, campaignID, kind); err != nil {
			lease.Release()
			return nil, false, err
		}
	}
	return lease, true, nil
}

// interruptOrphans fails the active jobs of (campaign, kind). The caller
// must hold that lock.
func (s *Supervisor) interruptOrphans(ctx context.Context, campaignID string, kind LockKind) (int64, error) {
	active, err := s.jobs.ListActive(ctx, campaignID, kind)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range active {
		if err := s.jobs.Interrupt(ctx, j); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		zap.L().Warn("interrupted orphaned jobs",
			zap.String("campaign_id", campaignID), zap.String("kind", string(kind)), zap.Int64("count", n))
	}
	return n, nil
}

func (s *Supervisor) ExtractionStatus(ctx context.Context, jobID string) (*ExtractionJob, error) {
	return s.jobs.GetExtraction(ctx, jobID)
}

func (s *Supervisor) ProcessingStatus(ctx context.Context, jobID string) (*ProcessingJob, error) {
	return s.jobs.GetProcessing(ctx, jobID)
}

// ReconcileStale is the startup sweep. It fails active jobs whose lock is
// free; jobs whose lock is held belong to a live run, possibly on another
// instance, and are left alone.
func (s *Supervisor) ReconcileStale(ctx context.Context) (int64, error) {
	active, err := s.jobs.ListActive(ctx, "", "")
	if err != nil {
		return 0, err
	}

	seen := make(map[lockKey]bool)
	var total int64
	for _, j := range active {
		k := lockKey{campaignID: j.CampaignID, kind: j.Lock}
		if seen[k] {
			continue
		}
		seen[k] = true

		release, ok, err := s.locker.Acquire(ctx, k.campaignID, k.kind, nil)
		if err != nil {
			return total, err
		}
		if !ok {
			zap.L().Info("active job owned by a live run",
				zap.String("campaign_id", k.campaignID), zap.String("kind", string(k.kind)))
			continue
		}
		n, err := s.interruptOrphans(ctx, k.campaignID, k.kind)
		release()
		total += n
		if err != nil {
			return total, err
		}
	}

	if total > 0 {
		zap.L().Warn("reconciled interrupted jobs", zap.Int64("count", total))
	}
	return total, nil
}
