package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&GuardianLink{},
		&EmergencyContact{},
		&SecurityLight{},
		&CCTVInstallation{},
		&EmergencyBell{},
		&SafeReturnPath{},
	)
}

// DeleteUserData removes the guardian links and emergency contacts of userID
// in one transaction.
func DeleteUserData(db *gorm.DB, userID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := DeleteGuardianLinksOf(tx, userID); err != nil {
			return err
		}
		_, err := DeleteEmergencyContactsOf(tx, userID)
		return err
	})
}
