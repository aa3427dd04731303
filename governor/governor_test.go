package governor

import (
	"testing"

	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/stretchr/testify/require"
)

// fakeCounterStore mirrors the atomic check-and-increment contract of
// the Redis store for a single counter dimension.
type fakeCounterStore struct {
	concurrent map[string]int
	hourly     map[string]int
	daily      map[string]int
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		concurrent: map[string]int{},
		hourly:     map[string]int{},
		daily:      map[string]int{},
	}
}

func (f *fakeCounterStore) Admit(principal string, limits persistence.Limits) (bool, string, error) {
	switch {
	case f.concurrent[principal] >= limits.MaxConcurrent:
		return false, "concurrent", nil
	case f.hourly[principal] >= limits.MaxHourly:
		return false, "hourly", nil
	case f.daily[principal] >= limits.MaxDaily:
		return false, "daily", nil
	}
	f.concurrent[principal]++
	f.hourly[principal]++
	f.daily[principal]++
	return true, "", nil
}

func (f *fakeCounterStore) Release(principal string) error {
	if f.concurrent[principal] > 0 {
		f.concurrent[principal]--
	}
	return nil
}

func (f *fakeCounterStore) Concurrent(principal string) (int, error) {
	return f.concurrent[principal], nil
}

func testLimits() LimitsProvider {
	return StaticLimitsProvider{Limits: persistence.Limits{
		MaxConcurrent: 3,
		MaxHourly:     100,
		MaxDaily:      1000,
	}}
}

func TestGovernorConcurrentLimit(t *testing.T) {
	counters := newFakeCounterStore()
	g := New(counters, testLimits())

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Admit("tenant-1", model.PriorityMedium))
	}

	err := g.Admit("tenant-1", model.PriorityMedium)
	var limitErr model.ResourceLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, "tenant-1", limitErr.Principal)
	require.Contains(t, limitErr.Reason, "concurrent")

	// other principals are unaffected
	require.NoError(t, g.Admit("tenant-2", model.PriorityMedium))

	g.Release("tenant-1")
	require.NoError(t, g.Admit("tenant-1", model.PriorityMedium))
}

func TestGovernorPriorityScalesConcurrency(t *testing.T) {
	counters := newFakeCounterStore()
	g := New(counters, testLimits())

	// critical runs at 3x the concurrent cap
	for i := 0; i < 9; i++ {
		require.NoError(t, g.Admit("tenant-1", model.PriorityCritical))
	}
	require.Error(t, g.Admit("tenant-1", model.PriorityCritical))
}

func TestGovernorHourlyLimitNotReleased(t *testing.T) {
	counters := newFakeCounterStore()
	g := New(counters, StaticLimitsProvider{Limits: persistence.Limits{
		MaxConcurrent: 10,
		MaxHourly:     2,
		MaxDaily:      1000,
	}})

	require.NoError(t, g.Admit("tenant-1", model.PriorityMedium))
	require.NoError(t, g.Admit("tenant-1", model.PriorityMedium))
	g.Release("tenant-1")
	g.Release("tenant-1")

	// hourly quota is consumed, releasing slots does not refund it
	err := g.Admit("tenant-1", model.PriorityMedium)
	var limitErr model.ResourceLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Contains(t, limitErr.Reason, "hourly")
}
