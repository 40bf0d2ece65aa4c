package querycache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/justsurfingit/jobtracker/internal/models"
	"go.uber.org/zap"
)

// JobsKey is the collection key of the job list.
const JobsKey = "jobs"

// ErrSuperseded is returned by Refresh when a newer fetch was started, or a
// mutation cancelled it, before the result arrived. The result is dropped.
var ErrSuperseded = stderrors.New("fetch superseded by a newer request")

type Fetcher func(ctx context.Context) ([]models.Job, error)

// Listener is called synchronously from Write with the snapshot written.
type Listener func(Snapshot)

type entry struct {
	snap    Snapshot
	version uint64
}

// Cache holds one snapshot of the job collection. The snapshot pointer is
// swapped atomically; readers never see a partial collection.
type Cache struct {
	key    string
	fetch  Fetcher
	logger *zap.Logger

	current atomic.Pointer[entry]
	stale   atomic.Bool

	// genMu orders fetch generation bumps against the write of a fetch result.
	genMu   sync.Mutex
	fetchID atomic.Uint64

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	bgCancel  context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

// New returns an empty, stale cache. fetch may be nil for a cache that is
// only written to.
func New(key string, fetch Fetcher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		key:       key,
		fetch:     fetch,
		logger:    logger,
		listeners: make(map[uint64]Listener),
	}
	c.current.Store(&entry{snap: NewSnapshot(nil)})
	c.stale.Store(true)
	return c
}

func (c *Cache) Key() string {
	return c.key
}

// Read returns the current snapshot, which may be stale.
func (c *Cache) Read() Snapshot {
	return c.current.Load().snap
}

// Version increases with every write.
func (c *Cache) Version() uint64 {
	return c.current.Load().version
}

func (c *Cache) IsStale() bool {
	return c.stale.Load()
}

// Write replaces the snapshot and notifies subscribers. It returns the new
// version.
func (c *Cache) Write(s Snapshot) uint64 {
	v := c.swap(s)
	c.notify(s)
	return v
}

func (c *Cache) swap(s Snapshot) uint64 {
	for {
		cur := c.current.Load()
		next := &entry{snap: s, version: cur.version + 1}
		if c.current.CompareAndSwap(cur, next) {
			return next.version
		}
	}
}

// WriteIf writes s only if no other write happened since version.
func (c *Cache) WriteIf(version uint64, s Snapshot) bool {
	cur := c.current.Load()
	if cur.version != version {
		return false
	}
	if !c.current.CompareAndSwap(cur, &entry{snap: s, version: version + 1}) {
		return false
	}
	c.notify(s)
	return true
}

// Update applies fn to the current snapshot and writes the result, retrying
// when another write lands in between. fn must be free of side effects other
// than capturing its argument. It returns the snapshot fn received and the
// new version.
func (c *Cache) Update(fn func(Snapshot) Snapshot) (Snapshot, uint64) {
	for {
		cur := c.current.Load()
		if c.WriteIf(cur.version, fn(cur.snap)) {
			return cur.snap, cur.version + 1
		}
	}
}

func (c *Cache) notify(s Snapshot) {
	c.mu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	for _, l := range ls {
		l(s)
	}
}

// Subscribe registers l. Subscribing to a stale cache starts a background
// refetch. The returned func unsubscribes and is safe to call twice.
func (c *Cache) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	if c.IsStale() {
		c.refetchInBackground()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) hasListeners() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners) > 0
}

// Invalidate marks the snapshot stale. With active subscribers the cache
// refetches in the background; otherwise the next Subscribe does.
func (c *Cache) Invalidate() {
	c.stale.Store(true)
	if c.hasListeners() {
		c.refetchInBackground()
	}
}

// CancelFetches drops the result of any fetch in flight. Mutations call it
// before their optimistic write so an older list cannot overwrite it.
func (c *Cache) CancelFetches() {
	c.genMu.Lock()
	c.fetchID.Add(1)
	c.genMu.Unlock()
	c.mu.Lock()
	cancel := c.bgCancel
	c.bgCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Refresh fetches the collection and writes it unless a newer fetch or a
// CancelFetches happened meanwhile.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.fetch == nil {
		return stderrors.New("querycache: no fetcher configured")
	}
	id := c.fetchID.Add(1)

	jobs, err := c.fetch(ctx)

	// The generation check and the swap happen under genMu, so a mutation's
	// CancelFetches lands either before (result dropped) or after (its
	// prediction is applied on top of this list).
	c.genMu.Lock()
	if c.fetchID.Load() != id {
		c.genMu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		c.genMu.Unlock()
		return err
	}
	snap := NewSnapshot(jobs)
	c.stale.Store(false)
	c.swap(snap)
	c.genMu.Unlock()

	c.notify(snap)
	return nil
}

func (c *Cache) refetchInBackground() {
	if c.fetch == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.bgCancel != nil {
		c.bgCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.bgCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		err := c.Refresh(ctx)
		switch {
		case err == nil, stderrors.Is(err, ErrSuperseded), stderrors.Is(err, context.Canceled):
		default:
			c.logger.Warn("background refetch failed", zap.String("key", c.key), zap.Error(err))
		}
	}()
}

// Close stops background fetches and waits for them to return.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.CancelFetches()
	c.wg.Wait()
}
