package memstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dColl/lib/common"
	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore/internal"
	"github.com/ValentinKolb/dColl/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Core Store structure
// --------------------------------------------------------------------------

// pendingTask is a queued, encoded task
type pendingTask struct {
	Data     []byte
	Attempts int
}

// commitNotice tells the background runner that a commit queued tasks
type commitNotice struct {
	commitIdx uint64
	tasks     int
}

// Store is the in-memory transactional object store
//
// Thread-safety: All exported methods are safe for concurrent use, except Load
type Store struct {
	opts *Options
	log  logger.ILogger

	table      *internal.Table
	bindings   *xsync.MapOf[string, internal.Binding]
	tombstones *xsync.MapOf[uint64, uint64] // removed object id -> commit index of the removal
	nextID     atomic.Uint64
	commitIdx  atomic.Uint64
	commitMu   sync.Mutex

	// start indices of running transactions, for tombstone pruning
	activeMu sync.Mutex
	active   map[uint64]int

	// deferred tasks
	tasksMu sync.Mutex
	tasks   *util.MapHeap[pendingTask]
	taskSeq uint64

	// background runner (only with TaskInterval > 0)
	notify     *util.LockFreeMPSC[commitNotice]
	cancel     context.CancelFunc
	runnerDone sync.WaitGroup

	closed atomic.Bool

	// statistics
	sizes       *util.SizeHistogram
	metrics     *metrics.Set
	commits     *metrics.Counter
	aborts      *metrics.Counter
	conflicts   *metrics.Counter
	tasksRun    *metrics.Counter
	tasksFailed *metrics.Counter
	commitTime  *metrics.Histogram
}

// New creates a store with the given options (nil = DefaultOptions)
func New(opts *Options) *Store {
	opts = opts.withDefaults()

	s := &Store{
		opts:       opts,
		log:        common.Logger(opts.LoggerName),
		table:      internal.NewTable(opts.Shards),
		bindings:   xsync.NewMapOf[string, internal.Binding](),
		tombstones: xsync.NewMapOf[uint64, uint64](),
		active:     make(map[uint64]int),
		tasks:      util.NewMapHeap[pendingTask](),
		sizes:      util.NewSizeHistogram(),
		metrics:    metrics.NewSet(),
	}

	s.commits = s.metrics.NewCounter("dcoll_memstore_commits_total")
	s.aborts = s.metrics.NewCounter("dcoll_memstore_aborts_total")
	s.conflicts = s.metrics.NewCounter("dcoll_memstore_conflicts_total")
	s.tasksRun = s.metrics.NewCounter("dcoll_memstore_tasks_run_total")
	s.tasksFailed = s.metrics.NewCounter("dcoll_memstore_tasks_failed_total")
	s.commitTime = s.metrics.NewHistogram("dcoll_memstore_commit_duration_seconds")
	s.metrics.NewGauge("dcoll_memstore_objects", func() float64 {
		return float64(s.table.Len())
	})
	s.metrics.NewGauge("dcoll_memstore_pending_tasks", func() float64 {
		return float64(s.PendingTasks())
	})

	if opts.TaskInterval > 0 {
		s.startRunner()
	}
	return s
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Transact runs fn in a transaction, see objstore.Store
func (s *Store) Transact(ctx context.Context, fn func(tx objstore.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if s.closed.Load() {
			return objstore.NewError(objstore.RetCTxnDone, "store is closed")
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			s.commits.Inc()
			return nil
		}
		if objstore.IsConflict(err) && attempt < s.opts.MaxRetries {
			s.conflicts.Inc()
			s.log.Debugf("transaction conflict (attempt %d): %v", attempt+1, err)
			continue
		}
		s.aborts.Inc()
		return err
	}
}

// runOnce runs fn in one transaction and commits it if fn succeeds
func (s *Store) runOnce(ctx context.Context, fn func(tx objstore.Txn) error) (err error) {
	tx := s.begin(ctx)
	defer s.end(tx)

	if err = fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) begin(ctx context.Context) *txn {
	s.activeMu.Lock()
	start := s.commitIdx.Load()
	s.active[start]++
	s.activeMu.Unlock()

	return newTxn(s, ctx, start)
}

func (s *Store) end(tx *txn) {
	tx.done = true

	s.activeMu.Lock()
	if s.active[tx.start]--; s.active[tx.start] <= 0 {
		delete(s.active, tx.start)
	}
	s.activeMu.Unlock()

	s.pruneTombstones()
}

// oldestActive returns the smallest start index of all running transactions
// (the current commit index if none is running)
func (s *Store) oldestActive() uint64 {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	oldest := s.commitIdx.Load()
	for start := range s.active {
		if start < oldest {
			oldest = start
		}
	}
	return oldest
}

// pruneTombstones drops tombstones no running transaction can observe anymore
func (s *Store) pruneTombstones() {
	if s.tombstones.Size() == 0 {
		return
	}
	oldest := s.oldestActive()
	s.tombstones.Range(func(id uint64, removedAt uint64) bool {
		if removedAt <= oldest {
			s.tombstones.Delete(id)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Deferred Tasks
// --------------------------------------------------------------------------

// enqueueTasks queues encoded tasks in commit order
func (s *Store) enqueueTasks(commitIdx uint64, encoded [][]byte) {
	if len(encoded) == 0 {
		return
	}
	s.tasksMu.Lock()
	for _, data := range encoded {
		s.taskSeq++
		s.tasks.AddItem(s.taskSeq, s.taskSeq, pendingTask{Data: data})
	}
	s.tasksMu.Unlock()

	if s.notify != nil {
		s.notify.Push(&commitNotice{commitIdx: commitIdx, tasks: len(encoded)})
	}
}

// requeue puts a failed task back at the end of the queue
func (s *Store) requeue(task pendingTask) {
	s.tasksMu.Lock()
	s.taskSeq++
	s.tasks.AddItem(s.taskSeq, s.taskSeq, task)
	s.tasksMu.Unlock()
}

func (s *Store) popTask() (pendingTask, bool) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	_, _, task, ok := s.tasks.PopMin()
	return task, ok
}

// PendingTasks returns the number of queued tasks
func (s *Store) PendingTasks() int {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return s.tasks.Len()
}

// DrainTasks runs queued tasks until the queue is empty, including tasks scheduled
// while draining. It returns the number of successful task runs. Tasks that fail
// MaxTaskAttempts times are dropped; the error of the last dropped task is returned
// after the queue was drained.
func (s *Store) DrainTasks(ctx context.Context) (int, error) {
	var (
		ran     int
		dropErr error
	)
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		pending, ok := s.popTask()
		if !ok {
			return ran, dropErr
		}

		err := s.runTask(ctx, pending)
		if err == nil {
			ran++
			s.tasksRun.Inc()
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || s.closed.Load() {
			// not the task's fault, keep it for later
			s.requeue(pending)
			return ran, err
		}

		pending.Attempts++
		if pending.Attempts < s.opts.MaxTaskAttempts {
			s.log.Warningf("task failed (attempt %d of %d), requeued: %v", pending.Attempts, s.opts.MaxTaskAttempts, err)
			s.requeue(pending)
			continue
		}
		s.tasksFailed.Inc()
		s.log.Errorf("task dropped after %d attempts: %v", pending.Attempts, err)
		dropErr = fmt.Errorf("task dropped after %d attempts: %w", pending.Attempts, err)
	}
}

// runTask decodes and runs one task in its own transaction
func (s *Store) runTask(ctx context.Context, pending pendingTask) error {
	v, err := s.opts.Codec.Decode(pending.Data)
	if err != nil {
		return err
	}
	task, ok := v.(objstore.Task)
	if !ok {
		return objstore.NewError(objstore.RetCTypeMismatch, "queued value %T is not a task", v)
	}
	return s.Transact(ctx, func(tx objstore.Txn) error {
		return task.Run(ctx, tx)
	})
}

// startRunner starts the background task runner
func (s *Store) startRunner() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.notify = util.NewLockFreeMPSC[commitNotice]()

	s.runnerDone.Add(1)
	go s.runner(ctx)
}

// runner drains the task queue after commits that queued tasks and on every interval
// WARNING: this method should never be called directly, use startRunner
func (s *Store) runner(ctx context.Context) {
	defer s.runnerDone.Done()

	timer := time.NewTimer(s.opts.TaskInterval)
	defer timer.Stop()

	drain := func() {
		if ctx.Err() != nil {
			return
		}
		if n, err := s.DrainTasks(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorf("background task run failed: %v", err)
		} else if n > 0 {
			s.log.Debugf("background runner ran %d tasks", n)
		}
	}

	for {
		select {
		case notice, ok := <-s.notify.Recv():
			if !ok {
				return
			}
			s.log.Debugf("commit %d queued %d tasks", notice.commitIdx, notice.tasks)
			drain()
		case <-timer.C:
			drain()
			timer.Reset(s.opts.TaskInterval)
		}
	}
}

// --------------------------------------------------------------------------
// Lifecycle and Statistics
// --------------------------------------------------------------------------

// Close stops the background runner. Later transactions fail with ErrTxnDone.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.notify != nil {
		s.cancel()
		s.notify.Close()
		s.runnerDone.Wait()
	}
	return nil
}

// Stats describes the content of the store
type Stats struct {
	Objects           int                    `json:"objects"`
	ObjectsByType     map[string]int         `json:"objects_by_type"`
	Bindings          int                    `json:"bindings"`
	PendingTasks      int                    `json:"pending_tasks"`
	CommitIndex       uint64                 `json:"commit_index"`
	Commits           uint64                 `json:"commits"`
	Aborts            uint64                 `json:"aborts"`
	Conflicts         uint64                 `json:"conflicts"`
	TasksRun          uint64                 `json:"tasks_run"`
	TasksFailed       uint64                 `json:"tasks_failed"`
	TotalBytes        int64                  `json:"total_bytes"`
	AvgObjectSize     int                    `json:"avg_object_size"`
	P90ObjectSize     int                    `json:"p90_object_size"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
}

// Stats returns statistics about the store
func (s *Store) Stats() Stats {
	st := Stats{
		ObjectsByType: make(map[string]int),
		PendingTasks:  s.PendingTasks(),
		CommitIndex:   s.commitIdx.Load(),
		Commits:       s.commits.Get(),
		Aborts:        s.aborts.Get(),
		Conflicts:     s.conflicts.Get(),
		TasksRun:      s.tasksRun.Get(),
		TasksFailed:   s.tasksFailed.Get(),
		TotalBytes:    s.sizes.Sum(),
		AvgObjectSize: s.sizes.AverageSize(),
		P90ObjectSize: s.sizes.PercentileEstimate(90),

		ShardDistribution: util.NewDistributionStats(s.table.ShardSizes()),
	}
	s.table.Range(func(_ uint64, rec internal.Record) bool {
		st.Objects++
		st.ObjectsByType[rec.TypeName]++
		return true
	})
	s.bindings.Range(func(_ string, b internal.Binding) bool {
		if b.ID != 0 {
			st.Bindings++
		}
		return true
	})
	return st
}

// ObjectCount returns the number of committed objects
func (s *Store) ObjectCount() int {
	return s.table.Len()
}

// WritePrometheus writes the store metrics in Prometheus text format
func (s *Store) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}
