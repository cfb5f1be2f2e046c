package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func priorities(t *testing.T, db *gorm.DB, userID string) map[string]int {
	t.Helper()
	contacts, err := ListEmergencyContacts(db, userID)
	require.NoError(t, err)
	out := make(map[string]int, len(contacts))
	for _, c := range contacts {
		out[c.Name] = c.Priority
	}
	return out
}

func addContact(t *testing.T, db *gorm.DB, name string, priority int) *EmergencyContact {
	t.Helper()
	c, err := CreateEmergencyContact(db, "u1", ContactInput{Name: name, Phone: "010-0000-0000", Priority: priority})
	require.NoError(t, err)
	return c
}

func TestCreateEmergencyContact(t *testing.T) {
	db := newTestDB(t)

	_, err := CreateEmergencyContact(db, "u1", ContactInput{Name: " ", Phone: "1"})
	assert.ErrorIs(t, err, ErrContactInvalid)

	addContact(t, db, "a", 0)
	addContact(t, db, "b", 0)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, priorities(t, db, "u1"))

	// inserting at a taken rank pushes the rest down
	addContact(t, db, "c", 1)
	assert.Equal(t, map[string]int{"c": 1, "a": 2, "b": 3}, priorities(t, db, "u1"))

	// other users are untouched
	_, err = CreateEmergencyContact(db, "u2", ContactInput{Name: "x", Phone: "1", Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c": 1, "a": 2, "b": 3}, priorities(t, db, "u1"))
}

func TestUpdateEmergencyContactSwapsOnConflict(t *testing.T) {
	db := newTestDB(t)
	a := addContact(t, db, "a", 0)
	addContact(t, db, "b", 0)
	addContact(t, db, "c", 0)

	got, err := UpdateEmergencyContact(db, "u1", a.ID, ContactInput{Name: "a", Phone: "1", Priority: 3, Relation: "엄마"})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, "엄마", *got.Relation)
	assert.Equal(t, map[string]int{"c": 1, "b": 2, "a": 3}, priorities(t, db, "u1"))
}

func TestUpdateEmergencyContactShiftsIntoGap(t *testing.T) {
	db := newTestDB(t)
	a := addContact(t, db, "a", 0)
	addContact(t, db, "b", 0)
	addContact(t, db, "c", 0)

	// rank 5 is free: b and c move up one
	_, err := UpdateEmergencyContact(db, "u1", a.ID, ContactInput{Name: "a", Phone: "1", Priority: 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 1, "c": 2, "a": 5}, priorities(t, db, "u1"))

	_, err = UpdateEmergencyContact(db, "u1", "missing", ContactInput{Name: "a", Phone: "1"})
	assert.ErrorIs(t, err, ErrContactNotFound)
	_, err = UpdateEmergencyContact(db, "u2", a.ID, ContactInput{Name: "a", Phone: "1"})
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestDeleteEmergencyContactCompacts(t *testing.T) {
	db := newTestDB(t)
	addContact(t, db, "a", 0)
	b := addContact(t, db, "b", 0)
	addContact(t, db, "c", 0)

	require.NoError(t, DeleteEmergencyContact(db, "u1", b.ID))
	assert.Equal(t, map[string]int{"a": 1, "c": 2}, priorities(t, db, "u1"))
	assert.ErrorIs(t, DeleteEmergencyContact(db, "u1", b.ID), ErrContactNotFound)
}

func TestDeleteUserData(t *testing.T) {
	db := newTestDB(t)
	addContact(t, db, "a", 0)
	now := nowUTC()
	accepted(t, db, Party{UserID: "u1", Email: "u1@test.kr"}, bob, now)
	accepted(t, db, alice, bob, now)

	require.NoError(t, DeleteUserData(db, "u1"))
	assert.Empty(t, priorities(t, db, "u1"))
	links, err := ListGuardianLinks(db, bob.UserID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}
