package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/queue"
	"github.com/cbodonnell/flywheel-stats/pkg/repositories"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
)

const (
	DefaultShards       = 16
	DefaultQueueSize    = 1024
	DefaultAdmitTimeout = 250 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
	DefaultFlushBudget  = 10 * time.Second
)

var (
	// ErrAdmissionTimeout means a mutation could not be queued before the admission timeout.
	ErrAdmissionTimeout = errors.New("mutation not admitted before timeout")
	// ErrStopped means the ledger no longer accepts mutations.
	ErrStopped = errors.New("ledger is stopped")
)

// Ledger is the only writer of the repository. Mutations for one entity id are
// always routed to the same shard and applied in the order they were admitted.
// Mutations for ids on different shards never wait on each other.
type Ledger struct {
	repository   repositories.Repository
	shards       []*queue.InMemoryQueue[mutation]
	admitTimeout time.Duration
	writeTimeout time.Duration
	flushBudget  time.Duration
	now          func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type NewLedgerOptions struct {
	Repository repositories.Repository
	// Shards is the number of serialized writers. Ids that hash to the same shard share a writer.
	Shards       int
	QueueSize    int
	AdmitTimeout time.Duration
	WriteTimeout time.Duration
	// FlushBudget bounds the total time FlushPlaytime spends retrying.
	FlushBudget time.Duration
	Clock       func() time.Time
}

type mutation struct {
	op    string
	id    string
	apply func(ctx context.Context, repo repositories.Repository) error
	// done receives the result when set. It must be buffered.
	done chan error
}

// NewLedger creates a new Ledger. Start must be called before mutations are applied.
func NewLedger(opts NewLedgerOptions) *Ledger {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.AdmitTimeout <= 0 {
		opts.AdmitTimeout = DefaultAdmitTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.FlushBudget <= 0 {
		opts.FlushBudget = DefaultFlushBudget
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	shards := make([]*queue.InMemoryQueue[mutation], opts.Shards)
	for i := range shards {
		shards[i] = queue.NewInMemoryQueue[mutation](opts.QueueSize)
	}
	return &Ledger{
		repository:   opts.Repository,
		shards:       shards,
		admitTimeout: opts.AdmitTimeout,
		writeTimeout: opts.WriteTimeout,
		flushBudget:  opts.FlushBudget,
		now:          opts.Clock,
	}
}

// Start launches one writer goroutine per shard.
func (l *Ledger) Start() {
	l.startOnce.Do(func() {
		for i, q := range l.shards {
			l.wg.Add(1)
			go l.runShard(i, q)
		}
		log.Debug("Ledger started with %d shards", len(l.shards))
	})
}

// Stop closes admission and waits for every shard to apply what was already queued.
// It returns ctx.Err() if the shards did not drain in time.
func (l *Ledger) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		for _, q := range l.shards {
			q.Close()
		}
	})

	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ledger did not drain: %w", ctx.Err())
	}
}

func (l *Ledger) runShard(index int, q *queue.InMemoryQueue[mutation]) {
	defer l.wg.Done()
	logger := log.With(map[string]interface{}{"shard": index})
	for {
		m, err := q.Dequeue(context.Background())
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) {
				logger.Error("Failed to dequeue mutation: %v", err)
			}
			return
		}
		l.apply(logger, m)
	}
}

func (l *Ledger) apply(logger *log.Logger, m mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	err := m.apply(ctx, l.repository)
	if err != nil {
		logger.Error("Failed to apply %s for %s: %v", m.op, m.id, err)
	} else {
		logger.Trace("Applied %s for %s", m.op, m.id)
	}
	if m.done != nil {
		m.done <- err
	}
}

func (l *Ledger) shardFor(id string) *queue.InMemoryQueue[mutation] {
	return l.shards[xxhash.Sum64String(id)%uint64(len(l.shards))]
}

// submit queues m on the shard owning its entity id.
func (l *Ledger) submit(m mutation, timeout time.Duration) error {
	err := l.shardFor(m.id).Enqueue(m, timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrQueueFull):
		return ErrAdmissionTimeout
	case errors.Is(err, queue.ErrQueueClosed):
		return ErrStopped
	default:
		return err
	}
}

// dispatch queues m and logs a drop instead of returning it.
func (l *Ledger) dispatch(m mutation) {
	if err := l.submit(m, l.admitTimeout); err != nil {
		log.Warn("Dropped %s for %s: %v", m.op, m.id, err)
	}
}

// UpsertOnline records that id is online under displayName, creating its records if needed.
func (l *Ledger) UpsertOnline(id string, displayName string, now int64) {
	l.dispatch(mutation{
		op: "upsert_online",
		id: id,
		apply: func(ctx context.Context, repo repositories.Repository) error {
			return repo.UpsertOnline(ctx, id, displayName, now)
		},
	})
}

// MarkOffline records that id went offline at now.
func (l *Ledger) MarkOffline(id string, now int64) {
	l.dispatch(mutation{
		op: "mark_offline",
		id: id,
		apply: func(ctx context.Context, repo repositories.Repository) error {
			return repo.MarkOffline(ctx, id, now)
		},
	})
}

// IncrementCounter adds amount to one counter of id. Invalid increments are logged and dropped.
func (l *Ledger) IncrementCounter(id string, kind stats.CounterKind, amount float64) {
	if err := stats.ValidateIncrement(kind, amount); err != nil {
		log.Warn("Dropped increment for %s: %v", id, err)
		return
	}
	l.dispatch(mutation{
		op: "increment_" + kind.String(),
		id: id,
		apply: func(ctx context.Context, repo repositories.Repository) error {
			return repo.IncrementCounter(ctx, id, kind, amount, l.now().UnixMilli())
		},
	})
}

// AddPlaytime adds deltaMs to the playtime of id.
func (l *Ledger) AddPlaytime(id string, deltaMs int64) {
	if deltaMs < 0 {
		log.Warn("Dropped negative playtime delta %d for %s", deltaMs, id)
		return
	}
	l.dispatch(l.addPlaytime(id, deltaMs, nil))
}

func (l *Ledger) addPlaytime(id string, deltaMs int64, done chan error) mutation {
	return mutation{
		op: "add_playtime",
		id: id,
		apply: func(ctx context.Context, repo repositories.Repository) error {
			return repo.AddPlaytime(ctx, id, deltaMs)
		},
		done: done,
	}
}

// WriteSnapshot replaces the live snapshot of id. It has no effect once id is offline.
func (l *Ledger) WriteSnapshot(id string, snapshot stats.LiveSnapshot) {
	l.dispatch(mutation{
		op: "write_snapshot",
		id: id,
		apply: func(ctx context.Context, repo repositories.Repository) error {
			return repo.WriteSnapshot(ctx, id, snapshot)
		},
	})
}

// FlushPlaytime adds deltaMs to the playtime of id and waits for the write.
// Failures are retried with exponential backoff until the flush budget or ctx
// runs out, then reported as a permanent failure.
func (l *Ledger) FlushPlaytime(ctx context.Context, id string, deltaMs int64) error {
	if deltaMs < 0 {
		return fmt.Errorf("negative playtime delta %d for %s", deltaMs, id)
	}

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		done := make(chan error, 1)
		if err := l.submit(l.addPlaytime(id, deltaMs, done), l.admissionWithin(ctx)); err != nil {
			if errors.Is(err, ErrStopped) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		select {
		case err := <-done:
			return struct{}{}, err
		case <-ctx.Done():
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(l.flushBudget),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Retrying playtime flush for %s in %v: %v", id, next, err)
		}),
	)
	if err != nil {
		log.Error("Permanently failed to flush %dms of playtime for %s after %d attempts: %v", deltaMs, id, attempts, err)
		return fmt.Errorf("failed to flush playtime for %s: %w", id, err)
	}
	return nil
}

// Sync waits until every mutation admitted before the call has been applied.
func (l *Ledger) Sync(ctx context.Context) error {
	waits := make([]chan error, 0, len(l.shards))
	for i, q := range l.shards {
		done := make(chan error, 1)
		barrier := mutation{
			op:    "sync",
			id:    fmt.Sprintf("shard-%d", i),
			apply: func(context.Context, repositories.Repository) error { return nil },
			done:  done,
		}
		if err := q.Enqueue(barrier, l.admissionWithin(ctx)); err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return ErrStopped
			}
			return ErrAdmissionTimeout
		}
		waits = append(waits, done)
	}

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// admissionWithin returns how long a blocking caller may wait for queue space.
func (l *Ledger) admissionWithin(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return 0
	}
	return l.admitTimeout
}
