package models

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStartSOSWithoutGuardians(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	request(t, db, alice, bob, now) // pending does not count

	_, _, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, now, 15*time.Minute)
	assert.ErrorIs(t, err, ErrNoGuardians)
}

func TestStartSOSUpdatesEveryAcceptedLink(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	accepted(t, db, alice, bob, now)
	accepted(t, db, carol, alice, now)

	links, expiresAt, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0, Precision: ptr(12.5)}, now, 15*time.Minute)
	require.NoError(t, err)
	assert.Len(t, links, 2)
	assert.WithinDuration(t, now.Add(15*time.Minute), expiresAt, time.Millisecond)
	for _, l := range links {
		assert.True(t, l.SOSSharing)
		assert.Equal(t, alice.Email, *l.SOSTriggeredBy)
		assert.Equal(t, 12.5, *l.SOSPrecisionM)
		assert.True(t, l.SOSActive(now, true))
	}
}

func TestSOSExpiresWithoutStop(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	accepted(t, db, alice, bob, now)

	_, _, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, now, time.Minute)
	require.NoError(t, err)

	active, err := ActiveSOSLinks(db, bob.UserID, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	active, err = ActiveSOSLinks(db, bob.UserID, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Empty(t, active)

	// the row still says sharing until something touches it
	var raw GuardianLink
	require.NoError(t, db.First(&raw).Error)
	assert.True(t, raw.SOSSharing)

	n, err := SweepExpiredSOS(db, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, db.First(&raw).Error)
	assert.False(t, raw.SOSSharing)
}

func TestSweepKeepsShareRestartedDuringSweep(t *testing.T) {
	db := newTestDB(t)
	start := time.Now().UTC().Truncate(time.Second)
	accepted(t, db, alice, bob, start)

	_, _, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, start, time.Minute)
	require.NoError(t, err)

	// alice triggers again right as the sweeper is about to write
	now := start.Add(2 * time.Minute)
	var fired atomic.Bool
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:restart_sos", func(tx *gorm.DB) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		_, _, err := StartSOS(db.Session(&gorm.Session{NewDB: true}), alice.UserID, alice.Email, SOSLocation{Latitude: 35.2, Longitude: 129.1}, now, 15*time.Minute)
		require.NoError(t, err)
	}))

	n, err := SweepExpiredSOS(db, now)
	require.NoError(t, err)
	assert.True(t, fired.Load())
	assert.Zero(t, n)

	active, err := ActiveSOSLinks(db, bob.UserID, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 35.2, *active[0].SOSLatitude)
	assert.WithinDuration(t, now.Add(15*time.Minute), *active[0].SOSExpiresAt, time.Millisecond)
}

func TestSweepSetsEndedAtToExpiry(t *testing.T) {
	db := newTestDB(t)
	start := time.Now().UTC().Truncate(time.Second)
	accepted(t, db, alice, bob, start)
	accepted(t, db, carol, bob, start)

	_, expiresAt, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, start, time.Minute)
	require.NoError(t, err)
	_, _, err = StartSOS(db, carol.UserID, carol.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, start, 30*time.Minute)
	require.NoError(t, err)

	n, err := SweepExpiredSOS(db, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var swept GuardianLink
	require.NoError(t, db.First(&swept, "requester_user_id = ?", alice.UserID).Error)
	assert.False(t, swept.SOSSharing)
	require.NotNil(t, swept.SOSEndedAt)
	assert.WithinDuration(t, expiresAt, *swept.SOSEndedAt, time.Millisecond)

	active, err := ActiveSOSLinks(db, bob.UserID, start.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, carol.Email, *active[0].SOSTriggeredBy)
}

func TestStopSOSOnlyCallerTriggered(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	accepted(t, db, alice, bob, now)
	accepted(t, db, bob, carol, now)

	_, _, err := StartSOS(db, alice.UserID, alice.Email, SOSLocation{Latitude: 35.1, Longitude: 129.0}, now, 15*time.Minute)
	require.NoError(t, err)
	_, _, err = StartSOS(db, carol.UserID, carol.Email, SOSLocation{Latitude: 35.2, Longitude: 129.1}, now.Add(time.Second), 15*time.Minute)
	require.NoError(t, err)

	// bob triggered nothing
	stopped, err := StopSOS(db, bob.UserID, bob.Email, now)
	require.NoError(t, err)
	assert.Empty(t, stopped)

	active, err := ActiveSOSLinks(db, bob.UserID, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, carol.Email, *active[0].SOSTriggeredBy, "latest first")

	stopped, err = StopSOS(db, alice.UserID, alice.Email, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Len(t, stopped, 1)

	active, err = ActiveSOSLinks(db, bob.UserID, now.Add(4*time.Second))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, carol.Email, *active[0].SOSTriggeredBy)
}

func TestSOSOwner(t *testing.T) {
	l := GuardianLink{
		RequesterUserID: "r", RequesterEmail: "r@test.kr",
		TargetUserID: "t", TargetEmail: "t@test.kr",
		SOSTriggeredBy: ptr("r@test.kr"),
	}
	id, email := l.SOSOwner()
	assert.Equal(t, "r", id)
	assert.Equal(t, "r@test.kr", email)

	l.SOSTriggeredBy = ptr("t@test.kr")
	id, _ = l.SOSOwner()
	assert.Equal(t, "t", id)
}

func TestSOSActiveWithoutExpiry(t *testing.T) {
	l := GuardianLink{SOSSharing: true}
	now := time.Now()
	assert.False(t, l.SOSActive(now, true))
	assert.True(t, l.SOSActive(now, false))
}
