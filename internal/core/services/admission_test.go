package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmission_AcquireAndBusy(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(5 * time.Minute)

	res, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Nil(t, res.ForcedRelease)

	_, err = ac.Admit("U2", false, clock.Now())
	var busy *domain.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "U1", busy.OwnerID)
	assert.ErrorIs(t, err, domain.ErrBusy)

	// one active job per user, the owner included
	_, err = ac.Admit("U1", false, clock.Now())
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestAdmission_FollowUpBypassesLock(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(5 * time.Minute)
	_, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := ac.Admit("U2", true, clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Acquired)

	lock := ac.Snapshot()
	require.NotNil(t, lock)
	assert.Equal(t, "U1", lock.OwnerID)
	assert.Equal(t, clock.Now().Add(-time.Minute), lock.AcquiredAt, "follow-up must not refresh the lock")
}

func TestAdmission_TimeoutForcesRelease(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(5 * time.Minute)
	_, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = ac.Admit("U2", false, clock.Now())
	assert.ErrorIs(t, err, domain.ErrBusy, "exactly at the timeout the lock still holds")

	clock.Advance(time.Second)
	res, err := ac.Admit("U2", false, clock.Now())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	require.NotNil(t, res.ForcedRelease)
	assert.Equal(t, "U1", res.ForcedRelease.OwnerID)
	assert.Equal(t, "U2", ac.Snapshot().OwnerID)
}

func TestAdmission_Release(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(0)
	_, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)

	assert.False(t, ac.Release("U2"), "only the owner releases")
	assert.NotNil(t, ac.Snapshot())
	assert.True(t, ac.Release("U1"))
	assert.Nil(t, ac.Snapshot())
	assert.False(t, ac.Release("U1"))
}

func TestAdmission_ReleaseIdle(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(0)

	assert.Nil(t, ac.ReleaseIdle(func() bool { return true }), "nothing held")

	_, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)
	assert.Nil(t, ac.ReleaseIdle(func() bool { return false }))
	assert.NotNil(t, ac.Snapshot())

	held := ac.ReleaseIdle(func() bool { return true })
	require.NotNil(t, held)
	assert.Equal(t, "U1", held.OwnerID)
	assert.Nil(t, ac.Snapshot())
}

func TestAdmission_ForceReleaseAndReset(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(0)
	_, err := ac.Admit("U1", false, clock.Now())
	require.NoError(t, err)

	held := ac.ForceRelease()
	require.NotNil(t, held)
	assert.Equal(t, "U1", held.OwnerID)
	assert.Nil(t, ac.ForceRelease())

	_, err = ac.Admit("U2", false, clock.Now())
	require.NoError(t, err)
	ac.Reset()
	assert.Nil(t, ac.Snapshot())
}

func TestAdmission_AdmitThenRunsOnlyWhenAdmitted(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(5 * time.Minute)

	runs := 0
	_, err := ac.AdmitThen("U1", false, clock.Now(), func() { runs++ })
	require.NoError(t, err)
	_, err = ac.AdmitThen("U2", false, clock.Now(), func() { runs++ })
	require.ErrorIs(t, err, domain.ErrBusy)
	_, err = ac.AdmitThen("U2", true, clock.Now(), func() { runs++ })
	require.NoError(t, err)

	assert.Equal(t, 2, runs)
}

func TestAdmission_SweepWaitsForAdmittedJob(t *testing.T) {
	clock := newFakeClock()
	ac := NewAdmissionController(5 * time.Minute)

	var stored atomic.Bool
	entered := make(chan struct{})
	proceed := make(chan struct{})
	admitted := make(chan error, 1)
	go func() {
		_, err := ac.AdmitThen("U1", false, clock.Now(), func() {
			close(entered)
			<-proceed
			stored.Store(true)
		})
		admitted <- err
	}()
	<-entered

	released := make(chan *domain.Lock, 1)
	go func() {
		released <- ac.ReleaseIdle(func() bool { return !stored.Load() })
	}()
	close(proceed)

	require.NoError(t, <-admitted)
	assert.Nil(t, <-released, "the sweep must see the stored job")
	require.NotNil(t, ac.Snapshot())
	assert.Equal(t, "U1", ac.Snapshot().OwnerID)
}
