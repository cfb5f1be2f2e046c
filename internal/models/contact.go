package models

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"MegaBrain/pkg/errors"
)

var (
	ErrContactInvalid  = errors.WithCode(http.StatusBadRequest, "이름과 전화번호는 필수입니다.")
	ErrContactNotFound = errors.WithCode(http.StatusNotFound, "연락처를 찾을 수 없습니다.")
)

// EmergencyContact is a phone contact the user keeps outside the guardian
// system. Priorities are dense per user, starting at 1.
type EmergencyContact struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"size:64;index"`
	Name      string    `json:"name" gorm:"size:128"`
	Phone     string    `json:"phone" gorm:"size:32"`
	Priority  int       `json:"priority" gorm:"index"`
	Relation  *string   `json:"relation" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmergencyContact) TableName() string { return "emergency_contacts" }

func (c *EmergencyContact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type ContactInput struct {
	Name     string
	Phone    string
	Priority int // 0 means unset
	Relation string
}

func (in *ContactInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Relation = strings.TrimSpace(in.Relation)
	if in.Name == "" || in.Phone == "" {
		return ErrContactInvalid
	}
	if in.Priority < 0 {
		in.Priority = 0
	}
	return nil
}

func ListEmergencyContacts(db *gorm.DB, userID string) ([]EmergencyContact, error) {
	var contacts []EmergencyContact
	err := db.Where("user_id = ?", userID).Order("priority ASC").Order("created_at ASC").Find(&contacts).Error
	return contacts, err
}

func contactScope(tx *gorm.DB, userID string) *gorm.DB {
	return tx.Model(&EmergencyContact{}).Where("user_id = ?", userID)
}

// CreateEmergencyContact appends the contact, or inserts it at the requested
// priority pushing the others down by one.
func CreateEmergencyContact(db *gorm.DB, userID string, in ContactInput) (*EmergencyContact, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	contact := &EmergencyContact{UserID: userID, Name: in.Name, Phone: in.Phone}
	if in.Relation != "" {
		contact.Relation = &in.Relation
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var maxPriority int
		if err := contactScope(tx, userID).Select("COALESCE(MAX(priority), 0)").Scan(&maxPriority).Error; err != nil {
			return err
		}
		priority := in.Priority
		if priority == 0 {
			priority = maxPriority + 1
		}

		var taken int64
		if err := contactScope(tx, userID).Where("priority = ?", priority).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			if err := contactScope(tx, userID).Where("priority >= ?", priority).
				UpdateColumn("priority", gorm.Expr("priority + 1")).Error; err != nil {
				return err
			}
		}
		contact.Priority = priority
		return tx.Create(contact).Error
	})
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// UpdateEmergencyContact edits a contact. Moving onto a taken priority swaps
// with that contact; moving into a gap shifts the range in between.
func UpdateEmergencyContact(db *gorm.DB, userID, id string, in ContactInput) (*EmergencyContact, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	var contact EmergencyContact

	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Limit(1).Find(&contact)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrContactNotFound
		}

		old := contact.Priority
		target := in.Priority
		if target == 0 {
			target = old
		}

		if target != old {
			others := contactScope(tx, userID).Where("id <> ?", id)
			var conflict EmergencyContact
			res := others.Session(&gorm.Session{}).Where("priority = ?", target).Limit(1).Find(&conflict)
			if res.Error != nil {
				return res.Error
			}
			switch {
			case res.RowsAffected > 0:
				if err := tx.Model(&conflict).UpdateColumn("priority", old).Error; err != nil {
					return err
				}
			case target < old:
				if err := others.Session(&gorm.Session{}).Where("priority >= ? AND priority < ?", target, old).
					UpdateColumn("priority", gorm.Expr("priority + 1")).Error; err != nil {
					return err
				}
			default:
				if err := others.Session(&gorm.Session{}).Where("priority > ? AND priority <= ?", old, target).
					UpdateColumn("priority", gorm.Expr("priority - 1")).Error; err != nil {
					return err
				}
			}
		}

		var relation any
		if in.Relation != "" {
			relation = in.Relation
		}
		if err := tx.Model(&contact).Updates(map[string]any{
			"name":     in.Name,
			"phone":    in.Phone,
			"priority": target,
			"relation": relation,
		}).Error; err != nil {
			return err
		}
		return tx.First(&contact, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// DeleteEmergencyContact removes the contact and closes the priority gap.
func DeleteEmergencyContact(db *gorm.DB, userID, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var contact EmergencyContact
		res := tx.Where("id = ? AND user_id = ?", id, userID).Limit(1).Find(&contact)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrContactNotFound
		}
		if err := tx.Delete(&EmergencyContact{}, "id = ?", id).Error; err != nil {
			return err
		}
		return contactScope(tx, userID).Where("priority > ?", contact.Priority).
			UpdateColumn("priority", gorm.Expr("priority - 1")).Error
	})
}

func DeleteEmergencyContactsOf(db *gorm.DB, userID string) (int64, error) {
	res := db.Where("user_id = ?", userID).Delete(&EmergencyContact{})
	return res.RowsAffected, res.Error
}
