package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"cloud.google.com/go/pubsub"
	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"bitbucket.org/mmdatafocus/recon_backend/workflow"
	"github.com/sirupsen/logrus"
)

const reconFileHandler = "recon-file"

var (
	fileTypeMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

// RunReconWorkflow starts the pull consumer for file-ready events. Files of
// the same type are serialized within this instance so two settlement files
// never interleave row transactions against the same ledger rows.
func RunReconWorkflow() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_FILE_READY_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_FILE_READY_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.FileReadyMessage{}
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "reconWorkflow.go", "RunReconWorkflow", "Unmarshaling pubsub message", msg.Data, err)
			// Malformed payload: ack/drop, a retry can never succeed.
			msg.Ack()
			return
		}
		if m.CorrelationId == "" {
			m.CorrelationId = msg.ID
		}

		globalMutex.Lock()
		mutex, exists := fileTypeMutexMap[m.FileType]
		if !exists {
			mutex = &sync.Mutex{}
			fileTypeMutexMap[m.FileType] = mutex
		}
		globalMutex.Unlock()

		mutex.Lock()
		defer mutex.Unlock()

		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
		ctx = utils.SetFileNameInContext(ctx, m.FileName)
		ctx = utils.SetActorInContext(ctx, "System")
		if err := ProcessFileMessage(ctx, logger, m, msg.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "ReconWorkflow",
				"file_name":      m.FileName,
				"file_type":      m.FileType,
				"correlation_id": m.CorrelationId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "reconWorkflow.go", "RunReconWorkflow", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessFileMessage runs one file-ready event under DB-backed idempotency
// keyed by the Pub/Sub message id. Row errors ack the message: they are
// durably recorded on the run and alerted, so redelivery would change
// nothing. Only transient failures return an error for a nack.
func ProcessFileMessage(ctx context.Context, logger *logrus.Logger, m config.FileReadyMessage, messageId string) error {
	db := config.GetDB()

	skip, err := workflow.BeginIdempotency(db, reconFileHandler, messageId)
	if err != nil {
		if errors.Is(err, workflow.ErrIdempotencyInProgress) {
			// Another worker holds this message; let Pub/Sub redeliver later.
			return err
		}
		return err
	}
	if skip {
		return nil
	}

	if _, _, err := workflow.ProcessFile(ctx, db, logger, m); err != nil {
		_ = workflow.MarkIdempotencyFailed(db, reconFileHandler, messageId, err)
		return err
	}
	return workflow.MarkIdempotencySucceeded(db, reconFileHandler, messageId)
}
