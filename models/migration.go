package models

import (
	"log"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Card{}, &InventoryCycle{}, &ScanRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
