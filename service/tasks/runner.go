// Package tasks runs ensemble fits on a bounded pool of workers and
// serves predictions from stored models.
package tasks

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/dataset"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
)

var (
	// ErrQueueFull is returned by Submit when no slot is free.
	ErrQueueFull = errors.New("job queue is full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job runner is closed")

	// ErrInterrupted is recorded on jobs that were queued or running when the
	// runner stopped.
	ErrInterrupted = errors.New("fit interrupted by shutdown")
)

// Event names a job notification.
type Event string

const (
	EventAccepted Event = "accepted"
	EventFinished Event = "finished"
	EventFailed   Event = "failed"
)

// Notification reports job progress to the submitter.
type Notification struct {
	ModelID   string    `json:"id"`
	Event     Event     `json:"event"`
	TrainLoss []float64 `json:"train_loss,omitempty"`
	ValLoss   []float64 `json:"val_loss,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Notifier receives notifications. It is called from worker goroutines and
// must not block for long.
type Notifier func(Notification)

// Store is the part of storage.Store the runner needs.
type Store interface {
	Get(ctx context.Context, id string) (*storage.Record, error)
	Update(ctx context.Context, id string, fn func(*storage.Record) error) (*storage.Record, error)
	List(ctx context.Context) ([]storage.Record, error)
}

// Config configures a Runner.
type Config struct {
	Concurrency int
	QueueSize   int
	// Seed seeds every fit, 0 for process entropy.
	Seed    uint64
	Logger  log.Logger
	Metrics *Metrics
}

type job struct {
	id     string
	notify Notifier
}

// Runner owns the job queue and its workers.
type Runner struct {
	store   Store
	cfg     Config
	logger  log.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// New creates a runner. Call Start to launch the workers.
func New(store Store, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("tasks")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Runner{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is done or Close is called.
func (r *Runner) Start(ctx context.Context) {
	for w := 0; w < r.cfg.Concurrency; w++ {
		r.wg.Add(1)
		go r.work(ctx, w)
	}
	r.logger.Info("workers started", log.WorkersKey, r.cfg.Concurrency)
}

// Close stops accepting jobs and waits for the workers. Queued jobs still run
// unless the context passed to Start is done; those left over are recorded
// as failed with ErrInterrupted and their submitters are notified.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()

	for j := range r.queue {
		r.metrics.QueueDepth.Dec()
		r.abandon(j)
	}
}

// ResetInterrupted marks records left queued or running by a previous
// process as failed, so they can be refitted. It returns how many were reset.
// Call it before Start.
func (r *Runner) ResetInterrupted(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, rec := range recs {
		if !inProgress(rec.Status) {
			continue
		}
		_, err := r.store.Update(ctx, rec.ID, func(stored *storage.Record) error {
			if inProgress(stored.Status) {
				stored.Status = storage.StatusFailed
				stored.Error = ErrInterrupted.Error()
			}
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return reset, err
		}
		reset++
		r.logger.Warn("reset interrupted job", log.JobIDKey, rec.ID, log.JobStatusKey, rec.Status)
	}
	return reset, nil
}

func inProgress(s storage.Status) bool {
	return s == storage.StatusQueued || s == storage.StatusRunning
}

// abandon fails a job that was accepted but never ran.
func (r *Runner) abandon(j job) {
	r.metrics.JobsTotal.WithLabelValues("unknown", string(storage.StatusFailed)).Inc()
	r.logger.Warn("job abandoned", log.JobIDKey, j.id, log.JobEventKey, EventFailed)
	_, err := r.store.Update(context.Background(), j.id, func(rec *storage.Record) error {
		rec.Status = storage.StatusFailed
		rec.Error = ErrInterrupted.Error()
		return nil
	})
	if err != nil {
		r.logger.Warn("recording abandoned job", log.JobIDKey, j.id, log.ErrAttrKey, err)
	}
	j.notify(Notification{ModelID: j.id, Event: EventFailed, Error: ErrInterrupted.Error()})
}

// Submit queues a fit of model id. The record must have a training dataset.
// notify, if not nil, receives EventAccepted before Submit returns and
// later exactly one of EventFinished or EventFailed.
func (r *Runner) Submit(ctx context.Context, id string, notify Notifier) error {
	if notify == nil {
		notify = func(Notification) {}
	}

	var previous storage.Status
	_, err := r.store.Update(ctx, id, func(rec *storage.Record) error {
		if rec.TrainPath == "" {
			return errors.NewValidationError("train_file", "no training dataset uploaded", id)
		}
		if inProgress(rec.Status) {
			return errors.NewValidationError("status", "a fit is already in progress", rec.Status)
		}
		previous = rec.Status
		rec.Status = storage.StatusQueued
		rec.Error = ""
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.enqueue(job{id: id, notify: notify}); err != nil {
		_, _ = r.store.Update(context.WithoutCancel(ctx), id, func(rec *storage.Record) error {
			rec.Status = previous
			return nil
		})
		return err
	}

	r.logger.Info("job accepted", log.JobIDKey, id, log.JobEventKey, EventAccepted)
	notify(Notification{ModelID: id, Event: EventAccepted})
	return nil
}

func (r *Runner) enqueue(j job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- j:
		r.metrics.QueueDepth.Inc()
		return nil
	default:
		r.metrics.Rejected.Inc()
		return ErrQueueFull
	}
}

func (r *Runner) work(ctx context.Context, worker int) {
	defer r.wg.Done()
	logger := r.logger.With(log.WorkerIDKey, worker)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-r.queue:
			if !ok {
				return
			}
			r.metrics.QueueDepth.Dec()
			r.run(ctx, logger, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, logger log.Logger, j job) {
	logger = logger.With(log.JobIDKey, j.id)

	var rec *storage.Record
	var loss ensemble.Loss
	err := errors.SafeExecute("tasks.fit", func() error {
		var err error
		rec, err = r.store.Update(ctx, j.id, func(rec *storage.Record) error {
			rec.Status = storage.StatusRunning
			return nil
		})
		if err != nil {
			return err
		}
		loss, err = r.fit(ctx, logger, rec)
		return err
	})

	kind := "unknown"
	if rec != nil {
		kind = string(rec.Kind)
	}
	if err != nil {
		r.metrics.JobsTotal.WithLabelValues(kind, string(storage.StatusFailed)).Inc()
		logger.Error("job failed", log.ErrAttrKey, err, log.JobEventKey, EventFailed)
		_, uerr := r.store.Update(context.WithoutCancel(ctx), j.id, func(rec *storage.Record) error {
			rec.Status = storage.StatusFailed
			rec.Error = err.Error()
			return nil
		})
		if uerr != nil {
			logger.Warn("recording failure", log.ErrAttrKey, uerr)
		}
		j.notify(Notification{ModelID: j.id, Event: EventFailed, Error: err.Error()})
		return
	}

	r.metrics.JobsTotal.WithLabelValues(kind, string(storage.StatusTrained)).Inc()
	logger.Info("job finished", log.JobEventKey, EventFinished, log.MembersKey, len(loss.Train))
	j.notify(Notification{ModelID: j.id, Event: EventFinished, TrainLoss: loss.Train, ValLoss: loss.Validation})
}

// generator returns the injected generator for one fit.
func (r *Runner) generator() *rand.Rand {
	if r.cfg.Seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(r.cfg.Seed, 0))
}

func (r *Runner) fit(ctx context.Context, logger log.Logger, rec *storage.Record) (ensemble.Loss, error) {
	train, err := dataset.ReadCSVFile(rec.TrainPath, rec.Target)
	if err != nil {
		return ensemble.Loss{}, err
	}
	if train.Y == nil {
		return ensemble.Loss{}, errors.NewDataError(rec.TrainPath, 0, rec.Target, "target column is required for fit")
	}

	var opts []ensemble.FitOption
	if rec.ValPath != "" {
		val, err := dataset.ReadCSVFile(rec.ValPath, rec.Target)
		if err != nil {
			return ensemble.Loss{}, err
		}
		xVal, err := val.Select(train.Columns)
		if err != nil {
			return ensemble.Loss{}, err
		}
		opts = append(opts, ensemble.WithValidation(xVal, val.Y))
	}

	model, err := ensemble.New(rec.Kind, rec.Params, ensemble.WithLogger(logger.With(log.EstimatorIDKey, rec.ID)))
	if err != nil {
		return ensemble.Loss{}, err
	}

	start := time.Now()
	loss, err := model.Fit(r.generator(), train.X, train.Y, opts...)
	if err != nil {
		return ensemble.Loss{}, err
	}
	elapsed := time.Since(start)
	r.metrics.FitDuration.WithLabelValues(string(rec.Kind)).Observe(elapsed.Seconds())

	blob, err := model.MarshalBinary()
	if err != nil {
		return ensemble.Loss{}, err
	}
	_, err = r.store.Update(context.WithoutCancel(ctx), rec.ID, func(stored *storage.Record) error {
		stored.Status = storage.StatusTrained
		stored.Model = blob
		stored.Loss = loss
		stored.Features = train.Columns
		stored.FitSeconds = elapsed.Seconds()
		return nil
	})
	return loss, err
}

// Predict scores the CSV in data with trained model id. A target column in
// data is ignored; the stored feature columns are selected by name.
func (r *Runner) Predict(ctx context.Context, id string, data io.Reader) (*mat.VecDense, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsTrained() {
		return nil, errors.NewNotFittedError(rec.Name, "Predict")
	}

	frame, err := dataset.ReadCSV(data, rec.Target, dataset.WithSource("test_dataset"), dataset.OptionalTarget())
	if err != nil {
		return nil, err
	}
	X, err := frame.Select(rec.Features)
	if err != nil {
		return nil, err
	}

	model, err := ensemble.Load(rec.Model)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	pred, err := model.Predict(X)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("predicted",
		log.EstimatorIDKey, id,
		log.OperationKey, log.OperationPredict,
		log.SamplesKey, frame.Rows(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return pred, nil
}
