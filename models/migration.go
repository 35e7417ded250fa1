package models

import (
	"log"

	"bitbucket.org/mmdatafocus/recon_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Account{}, &Invoice{}, &Payment{}, &Receipt{},
		&Credit{}, &AppliedCredit{},
		&JvBatch{}, &JvHeader{}, &JvLink{},
		&PartnerDisbursement{}, &DistributionCode{},
		&Refund{}, &PartialRefund{}, &ShortNameRefund{},
		&FileRun{}, &FileRowError{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
