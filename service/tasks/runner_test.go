package tasks

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/dataset"
	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/sklearn/ensemble"
)

func writeDataset(t *testing.T, name string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 7))
	X := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			X.Set(i, j, rng.Float64())
		}
		y.SetVec(i, 2*X.At(i, 0)-X.At(i, 1))
	}
	path := filepath.Join(t.TempDir(), name)
	frame := &dataset.Frame{Columns: []string{"a", "b", "c"}, Target: "y", X: X, Y: y}
	require.NoError(t, dataset.WriteCSVFile(path, frame))
	return path
}

type fixture struct {
	store   *storage.Store
	runner  *Runner
	metrics *Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	cfg.Logger, _ = log.NewTestLogger(log.LevelDebug)
	return &fixture{store: store, runner: New(store, cfg), metrics: cfg.Metrics}
}

func (f *fixture) create(t *testing.T, kind ensemble.Kind, train, val string) string {
	t.Helper()
	params := kind.DefaultParams(5)
	params.MaxDepth = 3
	rec := &storage.Record{
		Name:      "m",
		Kind:      kind,
		Params:    params,
		Status:    storage.StatusReady,
		Target:    "y",
		TrainPath: train,
		ValPath:   val,
	}
	require.NoError(t, f.store.Create(context.Background(), rec))
	return rec.ID
}

func collect() (Notifier, <-chan Notification) {
	ch := make(chan Notification, 4)
	return func(n Notification) { ch <- n }, ch
}

func next(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestRunner_FitAndPredict(t *testing.T) {
	for _, kind := range []ensemble.Kind{ensemble.KindRandomForest, ensemble.KindGradientBoosting} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t, Config{Concurrency: 2, QueueSize: 4, Seed: 11})
			ctx := context.Background()
			f.runner.Start(ctx)
			defer f.runner.Close()

			id := f.create(t, kind, writeDataset(t, "train.csv", 80), "")
			notify, ch := collect()
			require.NoError(t, f.runner.Submit(ctx, id, notify))

			assert.Equal(t, EventAccepted, next(t, ch).Event)
			done := next(t, ch)
			require.Equal(t, EventFinished, done.Event, done.Error)
			assert.Len(t, done.TrainLoss, 5)

			rec, err := f.store.Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, rec.IsTrained())
			assert.Equal(t, []string{"a", "b", "c"}, rec.Features)
			assert.Equal(t, done.TrainLoss, rec.Loss.Train)

			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues(string(kind), "trained")))

			// target column present and columns reordered
			csv := "c,y,b,a\n0.1,0,0.2,0.3\n0.4,0,0.5,0.6\n"
			pred, err := f.runner.Predict(ctx, id, strings.NewReader(csv))
			require.NoError(t, err)
			assert.Equal(t, 2, pred.Len())
		})
	}
}

func TestRunner_SeededFitsRepeat(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1, QueueSize: 4, Seed: 3})
	ctx := context.Background()
	f.runner.Start(ctx)
	defer f.runner.Close()

	train := writeDataset(t, "train.csv", 60)
	var losses [][]float64
	for i := 0; i < 2; i++ {
		id := f.create(t, ensemble.KindRandomForest, train, "")
		notify, ch := collect()
		require.NoError(t, f.runner.Submit(ctx, id, notify))
		next(t, ch)
		losses = append(losses, next(t, ch).TrainLoss)
	}
	assert.Equal(t, losses[0], losses[1])
}

func TestRunner_ValidationDatasetFails(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1, QueueSize: 1})
	ctx := context.Background()
	f.runner.Start(ctx)
	defer f.runner.Close()

	id := f.create(t, ensemble.KindGradientBoosting, writeDataset(t, "train.csv", 40), writeDataset(t, "val.csv", 10))
	notify, ch := collect()
	require.NoError(t, f.runner.Submit(ctx, id, notify))

	next(t, ch)
	failed := next(t, ch)
	assert.Equal(t, EventFailed, failed.Event)
	assert.Contains(t, failed.Error, "not supported")

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.False(t, rec.IsTrained())

	_, err = f.runner.Predict(ctx, id, strings.NewReader("a,b,c\n1,2,3\n"))
	var notFitted *errors.NotFittedError
	assert.True(t, errors.As(err, &notFitted))
}

func TestRunner_BadDatasetFails(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.runner.Start(ctx)
	defer f.runner.Close()

	id := f.create(t, ensemble.KindRandomForest, filepath.Join(t.TempDir(), "missing.csv"), "")
	notify, ch := collect()
	require.NoError(t, f.runner.Submit(ctx, id, notify))
	next(t, ch)
	assert.Equal(t, EventFailed, next(t, ch).Event)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues("random_forest", "failed")))
}

func TestRunner_SubmitWithoutDataset(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.create(t, ensemble.KindRandomForest, "", "")

	err := f.runner.Submit(context.Background(), id, nil)
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))

	err = f.runner.Submit(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRunner_QueueFull(t *testing.T) {
	// workers are never started, so the single slot stays taken
	f := newFixture(t, Config{Concurrency: 1, QueueSize: 1})
	ctx := context.Background()
	train := writeDataset(t, "train.csv", 20)

	first := f.create(t, ensemble.KindRandomForest, train, "")
	second := f.create(t, ensemble.KindRandomForest, train, "")

	require.NoError(t, f.runner.Submit(ctx, first, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueueDepth))

	err := f.runner.Submit(ctx, first, nil)
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr), "resubmitting a queued model")

	err = f.runner.Submit(ctx, second, nil)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected))

	rec, err := f.store.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, rec.Status)
}

func TestRunner_Closed(t *testing.T) {
	f := newFixture(t, Config{})
	f.runner.Start(context.Background())
	f.runner.Close()
	f.runner.Close()

	id := f.create(t, ensemble.KindRandomForest, writeDataset(t, "train.csv", 20), "")
	err := f.runner.Submit(context.Background(), id, nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRunner_CancelledContextFailsQueuedJobs(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1, QueueSize: 2})
	ctx := context.Background()
	train := writeDataset(t, "train.csv", 20)

	first := f.create(t, ensemble.KindRandomForest, train, "")
	second := f.create(t, ensemble.KindGradientBoosting, train, "")
	notifyFirst, chFirst := collect()
	notifySecond, chSecond := collect()
	require.NoError(t, f.runner.Submit(ctx, first, notifyFirst))
	require.NoError(t, f.runner.Submit(ctx, second, notifySecond))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	f.runner.Start(cancelled)
	f.runner.Close()

	for id, ch := range map[string]<-chan Notification{first: chFirst, second: chSecond} {
		assert.Equal(t, EventAccepted, next(t, ch).Event)
		assert.Equal(t, EventFailed, next(t, ch).Event)

		rec, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusFailed, rec.Status)
		assert.NotEmpty(t, rec.Error)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.QueueDepth))

	// a fresh runner on the same store accepts the model again
	again := New(f.store, Config{Metrics: NewMetrics(prometheus.NewRegistry())})
	again.Start(ctx)
	defer again.Close()
	notify, ch := collect()
	require.NoError(t, again.Submit(ctx, first, notify))
	assert.Equal(t, EventAccepted, next(t, ch).Event)
	assert.Equal(t, EventFinished, next(t, ch).Event)
}

func TestRunner_ResetInterrupted(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	train := writeDataset(t, "train.csv", 20)

	ids := map[storage.Status]string{}
	for _, status := range []storage.Status{storage.StatusQueued, storage.StatusRunning, storage.StatusTrained, storage.StatusReady} {
		id := f.create(t, ensemble.KindRandomForest, train, "")
		_, err := f.store.Update(ctx, id, func(rec *storage.Record) error {
			rec.Status = status
			return nil
		})
		require.NoError(t, err)
		ids[status] = id
	}

	n, err := f.runner.ResetInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := map[storage.Status]storage.Status{
		storage.StatusQueued:  storage.StatusFailed,
		storage.StatusRunning: storage.StatusFailed,
		storage.StatusTrained: storage.StatusTrained,
		storage.StatusReady:   storage.StatusReady,
	}
	for before, after := range want {
		rec, err := f.store.Get(ctx, ids[before])
		require.NoError(t, err)
		assert.Equal(t, after, rec.Status, "record that was %s", before)
	}

	f.runner.Start(ctx)
	defer f.runner.Close()
	notify, ch := collect()
	require.NoError(t, f.runner.Submit(ctx, ids[storage.StatusRunning], notify))
	next(t, ch)
	assert.Equal(t, EventFinished, next(t, ch).Event)
}
