package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/util"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := util.InitDatabase(nil, "sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var (
	alice = Party{UserID: "u-alice", Email: "alice@test.kr"}
	bob   = Party{UserID: "u-bob", Email: "bob@test.kr"}
	carol = Party{UserID: "u-carol", Email: "carol@test.kr"}
)

func ptr[T any](v T) *T { return &v }

func request(t *testing.T, db *gorm.DB, from, to Party, now time.Time) *GuardianLink {
	t.Helper()
	link, reused, err := CreateGuardianRequest(db, GuardianRequest{Requester: from, Target: to}, now)
	require.NoError(t, err)
	assert.False(t, reused)
	return link
}

func accepted(t *testing.T, db *gorm.DB, from, to Party, now time.Time) *GuardianLink {
	t.Helper()
	link := request(t, db, from, to, now)
	link, err := RespondGuardianRequest(db, link.ID, to.UserID, GuardianResponse{Accept: true}, now)
	require.NoError(t, err)
	return link
}

func TestPairKeyIsUnordered(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, 2, NormalizePriority(nil))
	assert.Equal(t, 1, NormalizePriority(ptr(-4.0)))
	assert.Equal(t, 3, NormalizePriority(ptr(2.6)))
	assert.Equal(t, 3, NormalizePriority(ptr(10.0)))
	assert.Equal(t, 1, NormalizePriority(ptr(1.2)))
}

func TestCreateGuardianRequestDefaults(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	link := request(t, db, alice, bob, now)
	assert.Equal(t, StatusPending, link.Status)
	assert.Equal(t, DefaultRelation, *link.RequesterRelation)
	assert.Equal(t, DefaultPriority, *link.RequesterPriority)
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, PairKey(alice.UserID, bob.UserID), link.PairKey)
}

func TestCreateGuardianRequestConflicts(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	_, _, err := CreateGuardianRequest(db, GuardianRequest{Requester: alice, Target: alice}, now)
	assert.ErrorIs(t, err, ErrSelfGuardian)

	request(t, db, alice, bob, now)

	_, _, err = CreateGuardianRequest(db, GuardianRequest{Requester: alice, Target: bob}, now)
	assert.ErrorIs(t, err, ErrRequestAlreadySent)
	assert.Equal(t, 409, errors.GetCode(err))

	_, _, err = CreateGuardianRequest(db, GuardianRequest{Requester: bob, Target: alice}, now)
	assert.ErrorIs(t, err, ErrPartnerRequested)

	var n int64
	require.NoError(t, db.Model(&GuardianLink{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestDeclineThenReuse(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	link := request(t, db, alice, bob, now)
	declined, err := RespondGuardianRequest(db, link.ID, bob.UserID, GuardianResponse{Accept: false}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, declined.Status)
	require.NotNil(t, declined.RespondedAt)

	// bob now asks alice; the same row is turned around
	again, reused, err := CreateGuardianRequest(db, GuardianRequest{Requester: bob, Target: alice, Relation: "가족", Priority: ptr(1.0)}, now)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, link.ID, again.ID)
	assert.Equal(t, StatusPending, again.Status)
	assert.Equal(t, bob.UserID, again.RequesterUserID)
	assert.Equal(t, alice.UserID, again.TargetUserID)
	assert.Equal(t, "가족", *again.RequesterRelation)
	assert.Nil(t, again.RespondedAt)
}

func TestAcceptedPairRejected(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	accepted(t, db, alice, bob, now)

	_, _, err := CreateGuardianRequest(db, GuardianRequest{Requester: bob, Target: alice}, now)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
}

func TestRespondOnlyByTarget(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	link := request(t, db, alice, bob, now)

	_, err := RespondGuardianRequest(db, link.ID, alice.UserID, GuardianResponse{Accept: true}, now)
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = RespondGuardianRequest(db, link.ID, carol.UserID, GuardianResponse{Accept: true}, now)
	assert.ErrorIs(t, err, ErrNotParticipant)

	got, err := GetGuardianLink(db, link.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	_, err = RespondGuardianRequest(db, "missing", bob.UserID, GuardianResponse{Accept: true}, now)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	ok, err := RespondGuardianRequest(db, link.ID, bob.UserID, GuardianResponse{Accept: true, Relation: ptr("친구"), Priority: ptr(1.0)}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, ok.Status)
	assert.Equal(t, "친구", *ok.TargetRelation)
	assert.Equal(t, 1, *ok.TargetPriority)

	_, err = RespondGuardianRequest(db, link.ID, bob.UserID, GuardianResponse{Accept: false}, now)
	assert.ErrorIs(t, err, ErrAlreadyHandled)
}

func TestAcceptClearsStaleSOS(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	link := request(t, db, alice, bob, now)
	require.NoError(t, db.Model(&GuardianLink{}).Where("id = ?", link.ID).Updates(map[string]any{
		"sos_sharing":      true,
		"sos_triggered_by": alice.Email,
		"sos_expires_at":   now.Add(time.Hour),
	}).Error)

	got, err := RespondGuardianRequest(db, link.ID, bob.UserID, GuardianResponse{Accept: true}, now)
	require.NoError(t, err)
	assert.False(t, got.SOSSharing)
	assert.Nil(t, got.SOSTriggeredBy)
	assert.Nil(t, got.SOSExpiresAt)
}

func TestRevokeAndDelete(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	link := accepted(t, db, alice, bob, now)

	_, err := RevokeGuardianLink(db, link.ID, carol.UserID, now)
	assert.ErrorIs(t, err, ErrNotParticipant)

	revoked, err := RevokeGuardianLink(db, link.ID, alice.UserID, now)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)

	_, err = RevokeGuardianLink(db, link.ID, alice.UserID, now)
	assert.ErrorIs(t, err, ErrAlreadyHandled)

	// revoked rows are reused like declined ones
	_, reused, err := CreateGuardianRequest(db, GuardianRequest{Requester: alice, Target: bob}, now)
	require.NoError(t, err)
	assert.True(t, reused)

	_, err = DeleteGuardianLink(db, link.ID, carol.UserID)
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = DeleteGuardianLink(db, link.ID, bob.UserID)
	require.NoError(t, err)
	_, err = DeleteGuardianLink(db, link.ID, bob.UserID)
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestViewerRelationAndPriority(t *testing.T) {
	l := GuardianLink{RequesterUserID: "r", TargetUserID: "t", RequesterRelation: ptr("부모"), RequesterPriority: ptr(1)}
	assert.Equal(t, "부모", l.RelationFor("r"))
	assert.Equal(t, "부모", l.RelationFor("t"))
	assert.Equal(t, 1, l.PriorityFor("t"))

	l.TargetRelation = ptr("자녀")
	l.TargetPriority = ptr(3)
	assert.Equal(t, "자녀", l.RelationFor("t"))
	assert.Equal(t, 3, l.PriorityFor("t"))

	empty := GuardianLink{RequesterUserID: "r", TargetUserID: "t"}
	assert.Equal(t, DefaultRelation, empty.RelationFor("t"))
	assert.Equal(t, FallbackPriority, empty.PriorityFor("r"))
}

func TestAcceptedGuardianLinksSortedByViewerPriority(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	l1 := accepted(t, db, alice, bob, now)
	_, _, err := CreateGuardianRequest(db, GuardianRequest{Requester: alice, Target: carol, Priority: ptr(1.0)}, now.Add(time.Second))
	require.NoError(t, err)
	var pending GuardianLink
	require.NoError(t, db.First(&pending, "target_user_id = ?", carol.UserID).Error)
	_, err = RespondGuardianRequest(db, pending.ID, carol.UserID, GuardianResponse{Accept: true}, now)
	require.NoError(t, err)

	links, err := AcceptedGuardianLinks(db, alice.UserID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, pending.ID, links[0].ID)
	assert.Equal(t, l1.ID, links[1].ID)
}

func nowUTC() time.Time { return time.Now().UTC() }
