// file-replay re-emits a file-ready event for one file, either by the
// correlation id of a recorded run or from explicit flags for a file that
// never produced a run.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... PUBSUB_PROJECT_ID=... go run ./cmd/file-replay -correlation-id abc123
//	go run ./cmd/file-replay -file settlement_20240301.csv -location gs://recon-inbound/settlement_20240301.csv -type SETTLEMENT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/google/uuid"
)

func main() {
	correlationId := flag.String("correlation-id", "", "correlation id of a recorded run to replay")
	fileName := flag.String("file", "", "file name (when replaying without a recorded run)")
	location := flag.String("location", "", "storage location, e.g. gs://bucket/object")
	fileType := flag.String("type", "", "SETTLEMENT | JV_FEEDBACK | AP_REFUND_FEEDBACK")
	flag.Parse()

	ctx := context.Background()

	var msg config.FileReadyMessage
	switch {
	case *correlationId != "":
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if db == nil {
			fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
			os.Exit(1)
		}
		var run models.FileRun
		if err := db.WithContext(ctx).Where("correlation_id = ?", *correlationId).First(&run).Error; err != nil {
			fmt.Fprintf(os.Stderr, "no run for correlation id %s: %v\n", *correlationId, err)
			os.Exit(2)
		}
		if run.Status == models.FileRunStatusSuccess {
			fmt.Fprintf(os.Stderr, "run %s already succeeded; nothing to replay\n", *correlationId)
			os.Exit(2)
		}
		msg = config.FileReadyMessage{
			FileName:        run.FileName,
			StorageLocation: run.StorageLocation,
			FileType:        string(run.FileType),
			CorrelationId:   run.CorrelationId,
		}
	case *fileName != "" && *location != "" && *fileType != "":
		if !models.FileType(*fileType).IsValid() {
			fmt.Fprintf(os.Stderr, "unknown file type %q\n", *fileType)
			os.Exit(2)
		}
		msg = config.FileReadyMessage{
			FileName:        *fileName,
			StorageLocation: *location,
			FileType:        *fileType,
			CorrelationId:   uuid.NewString(),
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	// Catch a typo'd or already-purged location before the consumer does.
	exists, err := utils.ObjectExistsInGCS(ctx, msg.StorageLocation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not check %s: %v\n", msg.StorageLocation, err)
		os.Exit(1)
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "no object at %s\n", msg.StorageLocation)
		os.Exit(2)
	}

	messageId, err := config.PublishFileReady(ctx, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published file-ready event\n  file: %s\n  correlation id: %s\n  message id: %s\n", msg.FileName, msg.CorrelationId, messageId)
}
