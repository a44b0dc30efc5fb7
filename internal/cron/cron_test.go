package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunamail/billing-backend/pkg/logger"
)

type fakeJob struct {
	name string
	runs int
	err  error
}

func (j *fakeJob) Name() string { return j.name }

func (j *fakeJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.acquires++
	return !l.held, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.releases++
	return nil
}

func TestRegistry_DropsNilJobs(t *testing.T) {
	r := NewRegistry(nil, &fakeJob{name: "a"})
	r.Register(nil)
	r.Register(&fakeJob{name: "b"})
	jobs := r.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name())
	assert.Equal(t, "b", jobs[1].Name())
}

func TestServiceRunCycle_RunsJobsInOrder(t *testing.T) {
	first := &fakeJob{name: "first"}
	second := &fakeJob{name: "second", err: errors.New("boom")}
	third := &fakeJob{name: "third"}
	lock := &fakeLock{}

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(first, second, third),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, first.runs)
	assert.Equal(t, 1, second.runs)
	// a failing job must not stop the jobs after it
	assert.Equal(t, 1, third.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestServiceRunCycle_SkipsWhenLocked(t *testing.T) {
	job := &fakeJob{name: "job"}
	lock := &fakeLock{held: true}

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
	assert.Equal(t, 0, lock.releases)
}

type fakeRedisStore struct {
	values map[string]string
}

func (s *fakeRedisStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *fakeRedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *fakeRedisStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	store := &fakeRedisStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "billing:sync:lock", time.Hour)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := NewRedisLock(store, "billing:sync:lock", time.Hour)
	require.NoError(t, err)
	ok, err = other.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(context.Background()))
	ok, err = other.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ReleaseOnlyOwn(t *testing.T) {
	store := &fakeRedisStore{values: map[string]string{"billing:sync:lock": "someone-else"}}
	lock, err := NewRedisLock(store, "billing:sync:lock", time.Hour)
	require.NoError(t, err)
	lock.owner = "me"

	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values["billing:sync:lock"])
}
