package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates the ledger tables. Only needed for LEDGER_BACKEND=mysql.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&PaymentRecord{},
		&WebhookEvent{},
	)
}
