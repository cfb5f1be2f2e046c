package models

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

type SOSLocation struct {
	Latitude  float64
	Longitude float64
	Precision *float64
}

// StartSOS overwrites the share on every accepted link of userID in one
// transaction and returns the updated links.
func StartSOS(db *gorm.DB, userID, email string, loc SOSLocation, now time.Time, ttl time.Duration) ([]GuardianLink, time.Time, error) {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	// stored times stay UTC so the sweeper can compare them in SQL
	now = now.UTC()
	expiresAt := now.Add(ttl)
	var links []GuardianLink

	err := db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&GuardianLink{}).
			Where("status = ? AND (requester_user_id = ? OR target_user_id = ?)", StatusAccepted, userID, userID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrNoGuardians
		}
		if err := tx.Model(&GuardianLink{}).Where("id IN ?", ids).Updates(map[string]any{
			"sos_sharing":      true,
			"sos_triggered_by": email,
			"sos_latitude":     loc.Latitude,
			"sos_longitude":    loc.Longitude,
			"sos_precision_m":  loc.Precision,
			"sos_started_at":   now,
			"sos_ended_at":     nil,
			"sos_expires_at":   expiresAt,
		}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Find(&links).Error
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return links, expiresAt, nil
}

// StopSOS ends the shares userID triggered and returns the links it touched.
func StopSOS(db *gorm.DB, userID, email string, now time.Time) ([]GuardianLink, error) {
	now = now.UTC()
	var links []GuardianLink
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND sos_sharing = ? AND sos_triggered_by = ? AND (requester_user_id = ? OR target_user_id = ?)",
			StatusAccepted, true, email, userID, userID).
			Find(&links).Error; err != nil {
			return err
		}
		if len(links) == 0 {
			return nil
		}
		ids := make([]string, len(links))
		for i := range links {
			ids[i] = links[i].ID
		}
		return tx.Model(&GuardianLink{}).Where("id IN ?", ids).Updates(map[string]any{
			"sos_sharing":    false,
			"sos_ended_at":   now,
			"sos_expires_at": now,
		}).Error
	})
	return links, err
}

// ActiveSOSLinks returns the accepted links of userID with a live share,
// most recently started first. Expiry is evaluated here rather than in SQL,
// so rows left sharing after their expiry never surface.
func ActiveSOSLinks(db *gorm.DB, userID string, now time.Time) ([]GuardianLink, error) {
	var rows []GuardianLink
	if err := db.Where("status = ? AND sos_sharing = ? AND (requester_user_id = ? OR target_user_id = ?)",
		StatusAccepted, true, userID, userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	active := rows[:0]
	for _, r := range rows {
		if r.SOSActive(now, true) {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return timeOrZero(active[i].SOSStartedAt).After(timeOrZero(active[j].SOSStartedAt))
	})
	return active, nil
}

// SweepExpiredSOS marks shares past their expiry as ended, in one statement
// so a share restarted meanwhile keeps its new expiry and stays live.
// Readers never rely on it.
func SweepExpiredSOS(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&GuardianLink{}).
		Where("sos_sharing = ? AND sos_expires_at IS NOT NULL AND sos_expires_at <= ?", true, now.UTC()).
		Updates(map[string]any{
			"sos_sharing":  false,
			"sos_ended_at": gorm.Expr("sos_expires_at"),
		})
	return res.RowsAffected, res.Error
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
