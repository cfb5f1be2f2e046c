package models

import (
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"MegaBrain/pkg/errors"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
	StatusRevoked  = "revoked"
)

const (
	DefaultRelation  = "기타"
	DefaultPriority  = 2
	FallbackPriority = 99
)

// Signals emitted after a guardian or SOS change is committed. The sender is
// the *GuardianLink (or []GuardianLink for SOS batches).
const (
	SigGuardianRequested = "guardian.requested"
	SigGuardianResponded = "guardian.responded"
	SigGuardianRemoved   = "guardian.removed"
	SigSOSStarted        = "sos.started"
	SigSOSStopped        = "sos.stopped"
)

var (
	ErrSelfGuardian       = errors.WithCode(http.StatusBadRequest, "본인을 보호자로 등록할 수 없습니다.")
	ErrAlreadyLinked      = errors.WithCode(http.StatusConflict, "이미 연결된 보호자입니다.")
	ErrRequestAlreadySent = errors.WithCode(http.StatusConflict, "이미 해당 사용자에게 요청을 보냈습니다.")
	ErrPartnerRequested   = errors.WithCode(http.StatusConflict, "상대방의 요청을 먼저 확인해주세요.")
	ErrRequestInFlight    = errors.WithCode(http.StatusConflict, "이미 처리 중인 요청이 있습니다.")
	ErrRequestNotFound    = errors.WithCode(http.StatusNotFound, "요청을 찾을 수 없습니다.")
	ErrLinkNotFound       = errors.WithCode(http.StatusNotFound, "데이터를 찾을 수 없습니다.")
	ErrAlreadyHandled     = errors.WithCode(http.StatusBadRequest, "이미 처리된 요청입니다.")
	ErrNotParticipant     = errors.WithCode(http.StatusUnauthorized, "Unauthorized")
	ErrNoGuardians        = errors.WithCode(http.StatusConflict, "등록된 보호자가 없습니다.")
)

// GuardianLink is one protector relationship between two users, with the SOS
// share of either party embedded on the row.
type GuardianLink struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	PairKey string `json:"-" gorm:"size:160;uniqueIndex"`

	RequesterUserID   string  `json:"requester_user_id" gorm:"size:64;index"`
	RequesterEmail    string  `json:"requester_email" gorm:"size:255"`
	RequesterRelation *string `json:"requester_relation" gorm:"size:64"`
	RequesterPriority *int    `json:"requester_priority"`
	TargetUserID      string  `json:"target_user_id" gorm:"size:64;index"`
	TargetEmail       string  `json:"target_email" gorm:"size:255"`
	TargetRelation    *string `json:"target_relation" gorm:"size:64"`
	TargetPriority    *int    `json:"target_priority"`

	Status      string     `json:"status" gorm:"size:16;index"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`

	SOSSharing     bool       `json:"sos_sharing" gorm:"column:sos_sharing;not null;default:false"`
	SOSTriggeredBy *string    `json:"sos_triggered_by" gorm:"column:sos_triggered_by;size:255"`
	SOSLatitude    *float64   `json:"sos_latitude" gorm:"column:sos_latitude"`
	SOSLongitude   *float64   `json:"sos_longitude" gorm:"column:sos_longitude"`
	SOSPrecisionM  *float64   `json:"sos_precision_m" gorm:"column:sos_precision_m"`
	SOSStartedAt   *time.Time `json:"sos_started_at" gorm:"column:sos_started_at"`
	SOSEndedAt     *time.Time `json:"sos_ended_at" gorm:"column:sos_ended_at"`
	SOSExpiresAt   *time.Time `json:"sos_expires_at" gorm:"column:sos_expires_at"`
}

func (GuardianLink) TableName() string { return "protector" }

func (l *GuardianLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.PairKey == "" {
		l.PairKey = PairKey(l.RequesterUserID, l.TargetUserID)
	}
	return nil
}

// PairKey identifies the unordered pair of users.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func (l *GuardianLink) IsParticipant(userID string) bool {
	return userID != "" && (l.RequesterUserID == userID || l.TargetUserID == userID)
}

// Partner returns the other party as seen by userID.
func (l *GuardianLink) Partner(userID string) (id, email string) {
	if l.RequesterUserID == userID {
		return l.TargetUserID, l.TargetEmail
	}
	return l.RequesterUserID, l.RequesterEmail
}

// SOSOwner is the party that triggered the current share.
func (l *GuardianLink) SOSOwner() (id, email string) {
	if l.SOSTriggeredBy != nil && l.RequesterEmail != "" && *l.SOSTriggeredBy == l.RequesterEmail {
		return l.RequesterUserID, l.RequesterEmail
	}
	return l.TargetUserID, l.TargetEmail
}

func (l *GuardianLink) TriggeredBy(email string) bool {
	return email != "" && l.SOSTriggeredBy != nil && *l.SOSTriggeredBy == email
}

// SOSActive reports a live share at now. A share without expiry counts as
// live only when requireExpiry is false.
func (l *GuardianLink) SOSActive(now time.Time, requireExpiry bool) bool {
	if !l.SOSSharing {
		return false
	}
	if l.SOSExpiresAt == nil {
		return !requireExpiry
	}
	return l.SOSExpiresAt.After(now)
}

// RelationFor is the label userID sees for the link.
func (l *GuardianLink) RelationFor(userID string) string {
	if l.RequesterUserID == userID {
		return stringOr(l.RequesterRelation, DefaultRelation)
	}
	if v := stringOr(l.TargetRelation, ""); v != "" {
		return v
	}
	return stringOr(l.RequesterRelation, DefaultRelation)
}

// PriorityFor is the rank userID gave the link.
func (l *GuardianLink) PriorityFor(userID string) int {
	if l.RequesterUserID == userID {
		return intOr(l.RequesterPriority, FallbackPriority)
	}
	if l.TargetPriority != nil {
		return *l.TargetPriority
	}
	return intOr(l.RequesterPriority, FallbackPriority)
}

// NormalizePriority rounds to 1..3, defaulting to 2.
func NormalizePriority(v *float64) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return DefaultPriority
	}
	p := int(math.Round(*v))
	return min(3, max(1, p))
}

func stringOr(v *string, def string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func clearedSOS() map[string]any {
	return map[string]any{
		"sos_sharing":      false,
		"sos_triggered_by": nil,
		"sos_latitude":     nil,
		"sos_longitude":    nil,
		"sos_precision_m":  nil,
		"sos_started_at":   nil,
		"sos_ended_at":     nil,
		"sos_expires_at":   nil,
	}
}

type Party struct {
	UserID string
	Email  string
}

type GuardianRequest struct {
	Requester Party
	Target    Party
	Relation  string
	Priority  *float64
}

// CreateGuardianRequest opens a pending request, or reuses a declined or
// revoked row of the same pair. reused reports the latter.
func CreateGuardianRequest(db *gorm.DB, in GuardianRequest, now time.Time) (link *GuardianLink, reused bool, err error) {
	if in.Requester.UserID == in.Target.UserID {
		return nil, false, ErrSelfGuardian
	}
	relation := strings.TrimSpace(in.Relation)
	if relation == "" {
		relation = DefaultRelation
	}
	priority := NormalizePriority(in.Priority)

	err = db.Transaction(func(tx *gorm.DB) error {
		var existing GuardianLink
		res := tx.Where("pair_key = ?", PairKey(in.Requester.UserID, in.Target.UserID)).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			link = &GuardianLink{
				RequesterUserID:   in.Requester.UserID,
				RequesterEmail:    in.Requester.Email,
				RequesterRelation: &relation,
				RequesterPriority: &priority,
				TargetUserID:      in.Target.UserID,
				TargetEmail:       in.Target.Email,
				Status:            StatusPending,
				CreatedAt:         now,
			}
			return tx.Create(link).Error
		}

		switch existing.Status {
		case StatusAccepted:
			return ErrAlreadyLinked
		case StatusPending:
			if existing.RequesterUserID == in.Requester.UserID {
				return ErrRequestAlreadySent
			}
			return ErrPartnerRequested
		}

		// declined or revoked: turn the row around as a fresh request
		updates := map[string]any{
			"requester_user_id":  in.Requester.UserID,
			"requester_email":    in.Requester.Email,
			"target_user_id":     in.Target.UserID,
			"target_email":       in.Target.Email,
			"requester_relation": relation,
			"requester_priority": priority,
			"status":             StatusPending,
			"responded_at":       nil,
		}
		res = tx.Model(&GuardianLink{}).
			Where("id = ? AND status IN ?", existing.ID, []string{StatusDeclined, StatusRevoked}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestInFlight
		}
		reused = true
		link = &GuardianLink{}
		return tx.First(link, "id = ?", existing.ID).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, ErrRequestInFlight
	}
	if err != nil {
		return nil, false, err
	}
	return link, reused, nil
}

// GetGuardianLink returns gorm.ErrRecordNotFound when id is unknown.
func GetGuardianLink(db *gorm.DB, id string) (*GuardianLink, error) {
	var link GuardianLink
	if err := db.First(&link, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

type GuardianResponse struct {
	Accept bool
	// Relation and Priority are the target's own labels, applied on accept.
	Relation *string
	Priority *float64
}

// RespondGuardianRequest lets the target accept or decline a pending request.
func RespondGuardianRequest(db *gorm.DB, id, callerID string, in GuardianResponse, now time.Time) (*GuardianLink, error) {
	link, err := GetGuardianLink(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if link.TargetUserID != callerID {
		return nil, ErrNotParticipant
	}
	if link.Status != StatusPending {
		return nil, ErrAlreadyHandled
	}

	updates := map[string]any{"status": StatusDeclined, "responded_at": now}
	if in.Accept {
		updates = clearedSOS()
		updates["status"] = StatusAccepted
		updates["responded_at"] = now
		if in.Relation != nil && strings.TrimSpace(*in.Relation) != "" {
			updates["target_relation"] = strings.TrimSpace(*in.Relation)
		}
		if in.Priority != nil {
			updates["target_priority"] = NormalizePriority(in.Priority)
		}
	}

	// the status guard makes a concurrent second answer a no-op
	res := db.Model(&GuardianLink{}).Where("id = ? AND status = ?", id, StatusPending).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyHandled
	}
	return GetGuardianLink(db, id)
}

// RevokeGuardianLink ends an accepted link without deleting it.
func RevokeGuardianLink(db *gorm.DB, id, callerID string, now time.Time) (*GuardianLink, error) {
	link, err := GetGuardianLink(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if !link.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if link.Status != StatusAccepted {
		return nil, ErrAlreadyHandled
	}

	updates := clearedSOS()
	updates["status"] = StatusRevoked
	updates["responded_at"] = now
	res := db.Model(&GuardianLink{}).Where("id = ? AND status = ?", id, StatusAccepted).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyHandled
	}
	return GetGuardianLink(db, id)
}

// DeleteGuardianLink hard deletes a link of any status for either party.
func DeleteGuardianLink(db *gorm.DB, id, callerID string) (*GuardianLink, error) {
	link, err := GetGuardianLink(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if !link.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if err := db.Delete(&GuardianLink{}, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// ListGuardianLinks returns every link of userID, newest first.
func ListGuardianLinks(db *gorm.DB, userID string) ([]GuardianLink, error) {
	var links []GuardianLink
	err := db.Where("requester_user_id = ? OR target_user_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&links).Error
	return links, err
}

// AcceptedGuardianLinks returns the accepted links of userID ordered by the
// priority userID gave them.
func AcceptedGuardianLinks(db *gorm.DB, userID string) ([]GuardianLink, error) {
	var links []GuardianLink
	err := db.Where("status = ? AND (requester_user_id = ? OR target_user_id = ?)", StatusAccepted, userID, userID).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].PriorityFor(userID) < links[j].PriorityFor(userID)
	})
	return links, nil
}

// DeleteGuardianLinksOf removes every link userID is a party of.
func DeleteGuardianLinksOf(db *gorm.DB, userID string) (int64, error) {
	res := db.Where("requester_user_id = ? OR target_user_id = ?", userID, userID).Delete(&GuardianLink{})
	return res.RowsAffected, res.Error
}
