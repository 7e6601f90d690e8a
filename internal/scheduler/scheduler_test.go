package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuns() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "runs"}, []string{"job", "result"})
}

func TestAdd_Validation(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Name: "bad", Cron: "every minute", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "off", Cron: "", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "sweep", Cron: "*/5 * * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "sweep", Cron: "* * * * *", Run: noop}))

	assert.Equal(t, []string{"sweep"}, s.Jobs())
	assert.Error(t, s.RunNow(context.Background(), "off"))
}

func TestRunNow_CountsResults(t *testing.T) {
	runs := newRuns()
	s := New(runs)
	fail := errors.New("boom")
	var calls int32

	require.NoError(t, s.Add(Job{Name: "ok", Cron: "@daily", Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}))
	require.NoError(t, s.Add(Job{Name: "bad", Cron: "@daily", Run: func(context.Context) error { return fail }}))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "bad"), fail)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1.0, testutil.ToFloat64(runs.WithLabelValues("ok", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(runs.WithLabelValues("bad", "error")))
}

func TestRun_SkipsOverlap(t *testing.T) {
	runs := newRuns()
	s := New(runs)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, s.Add(Job{Name: "slow", Cron: "@hourly", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	require.NoError(t, s.RunNow(context.Background(), "slow"))
	assert.Equal(t, 1.0, testutil.ToFloat64(runs.WithLabelValues("slow", "skipped")))

	close(release)
	require.NoError(t, <-done)
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "minute", Cron: "* * * * *", Run: func(context.Context) error { return nil }}))

	s.Start(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Error(t, s.Add(Job{Name: "late", Cron: "* * * * *", Run: func(context.Context) error { return nil }}))
}

type fakeBans struct {
	now    time.Time
	gotNow time.Time
}

func (f *fakeBans) Now() time.Time { return f.now }

func (f *fakeBans) ReleaseExpiredBans(_ context.Context, now time.Time) (int64, error) {
	f.gotNow = now
	return 3, nil
}

func TestBanSweepJob(t *testing.T) {
	fake := &fakeBans{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	job := BanSweep("*/5 * * * *", fake)

	assert.Equal(t, JobBanSweep, job.Name)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, fake.now, fake.gotNow)
}

func TestBackupJob(t *testing.T) {
	var name string
	job := Backup("0 3 * * *", SnapshotFunc(func(_ context.Context, n string) error {
		name = n
		return nil
	}))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "scheduled", name)
}
