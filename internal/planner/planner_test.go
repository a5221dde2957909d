package planner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return NewSQLiteRepository(db.DB)
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func startJob(circuit string) Job {
	return Job{
		Name:     "irrigation:start",
		Data:     map[string]string{"circuit": circuit},
		Cron:     "30 6 * * 1",
		Timezone: "Europe/Moscow",
	}
}

func TestJob_Spec(t *testing.T) {
	j := Job{Cron: "0 5 * * 0", Timezone: "Europe/Moscow"}
	assert.Equal(t, "CRON_TZ=Europe/Moscow 0 5 * * 0", j.Spec())

	j.Timezone = ""
	assert.Equal(t, "0 5 * * 0", j.Spec())
}

func TestPlanner_Schedule(t *testing.T) {
	ctx := context.Background()

	t.Run("persists and registers", func(t *testing.T) {
		repo := setupRepo(t)
		p := New(repo, WithClock(fixedClock()))
		p.Define("irrigation:start", func(context.Context, Job) error { return nil })

		job, err := p.Schedule(ctx, startJob("c1"))
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, fixedClock()(), job.CreatedAt)
		assert.Equal(t, 1, p.EntryCount())

		stored, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "c1", stored.Data["circuit"])
		assert.Equal(t, "30 6 * * 1", stored.Cron)
		assert.Equal(t, "Europe/Moscow", stored.Timezone)
		assert.Nil(t, stored.LastRunAt)
	})

	t.Run("unknown handler", func(t *testing.T) {
		p := New(setupRepo(t))
		_, err := p.Schedule(ctx, startJob("c1"))
		assert.ErrorIs(t, err, ErrUnknownHandler)
	})

	t.Run("invalid cron", func(t *testing.T) {
		p := New(setupRepo(t))
		p.Define("irrigation:start", func(context.Context, Job) error { return nil })

		job := startJob("c1")
		job.Cron = "61 6 * * 1"
		_, err := p.Schedule(ctx, job)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("invalid time zone", func(t *testing.T) {
		p := New(setupRepo(t))
		p.Define("irrigation:start", func(context.Context, Job) error { return nil })

		job := startJob("c1")
		job.Timezone = "Mars/Olympus_Mons"
		_, err := p.Schedule(ctx, job)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("after stop", func(t *testing.T) {
		p := New(setupRepo(t))
		p.Define("irrigation:start", func(context.Context, Job) error { return nil })
		p.Stop()

		_, err := p.Schedule(ctx, startJob("c1"))
		assert.ErrorIs(t, err, ErrStopped)
	})
}

func TestPlanner_Cancel(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	p := New(repo)
	p.Define("irrigation:start", func(context.Context, Job) error { return nil })

	job, err := p.Schedule(ctx, startJob("c1"))
	require.NoError(t, err)

	require.NoError(t, p.Cancel(ctx, job.ID))
	assert.Equal(t, 0, p.EntryCount())

	jobs, err := p.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.ErrorIs(t, p.Cancel(ctx, job.ID), ErrJobNotFound)
}

func TestPlanner_RunNow(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	p := New(repo, WithClock(fixedClock()))

	var calls atomic.Int32
	fail := errors.New("controller offline")
	p.Define("irrigation:start", func(_ context.Context, job Job) error {
		calls.Add(1)
		if job.Data["circuit"] == "broken" {
			return fail
		}
		return nil
	})

	ok, err := p.Schedule(ctx, startJob("c1"))
	require.NoError(t, err)
	broken, err := p.Schedule(ctx, startJob("broken"))
	require.NoError(t, err)

	require.NoError(t, p.RunNow(ctx, ok.ID))
	assert.ErrorIs(t, p.RunNow(ctx, broken.ID), fail)
	assert.Equal(t, int32(2), calls.Load())

	stored, err := repo.Get(ctx, ok.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(fixedClock()()))
	assert.Nil(t, stored.LastError)

	stored, err = repo.Get(ctx, broken.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "controller offline", *stored.LastError)

	assert.ErrorIs(t, p.RunNow(ctx, "missing"), ErrJobNotFound)
}

func TestPlanner_RunNow_AppliesTimeout(t *testing.T) {
	ctx := context.Background()
	p := New(setupRepo(t), WithJobTimeout(10*time.Millisecond))
	p.Define("irrigation:start", func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		return ctx.Err()
	})

	job, err := p.Schedule(ctx, startJob("c1"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.RunNow(ctx, job.ID), context.DeadlineExceeded)
}

func TestPlanner_StartReloadsPersistedJobs(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	noop := func(context.Context, Job) error { return nil }

	first := New(repo)
	first.Define("irrigation:start", noop)
	_, err := first.Schedule(ctx, startJob("c1"))
	require.NoError(t, err)
	_, err = first.Schedule(ctx, startJob("c2"))
	require.NoError(t, err)
	first.Stop()

	// A job whose handler the next process no longer defines.
	require.NoError(t, repo.Save(ctx, &Job{
		ID: "orphan", Name: "legacy", Cron: "0 0 * * *", CreatedAt: time.Now(),
	}))

	second := New(repo)
	second.Define("irrigation:start", noop)
	require.NoError(t, second.Start(ctx))
	t.Cleanup(second.Stop)

	assert.Equal(t, 2, second.EntryCount())

	// Starting again does not register duplicates.
	require.NoError(t, second.Start(ctx))
	assert.Equal(t, 2, second.EntryCount())
}
