package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/proposal-pulse/internal/engagement"
)

// Consumer drains the tracking queue and applies each hit through the
// engagement service, which preserves the first-open and first-view
// idempotency no matter how often SQS redelivers.
type Consumer struct {
	sqsClient *sqs.Client
	queueURL  string
	svc       *engagement.Service
	done      chan struct{}
}

func NewConsumer(sqsClient *sqs.Client, queueURL string, svc *engagement.Service) *Consumer {
	return &Consumer{
		sqsClient: sqsClient,
		queueURL:  queueURL,
		svc:       svc,
		done:      make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	log.Printf("SQS tracking consumer started (queue=%s)", c.queueURL)
	go c.poll(ctx)
}

func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("SQS receive error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt TrackingEvent
			if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
				log.Printf("SQS bad message: %v", err)
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := c.processEvent(ctx, evt); err != nil {
				log.Printf("SQS process error (%s): %v", evt.EventType, err)
				continue
			}

			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
}

func (c *Consumer) processEvent(ctx context.Context, evt TrackingEvent) error {
	var err error
	switch evt.EventType {
	case EventOpen:
		err = c.svc.TrackOpen(ctx, evt.Token, evt.IPAddress, evt.UserAgent)
	case EventView:
		err = c.svc.TrackDeliveryView(ctx, evt.Token, evt.IPAddress, evt.UserAgent)
	default:
		log.Printf("unknown event type: %s", evt.EventType)
		return nil
	}

	// Unknown tokens are dropped, not retried: redelivery cannot make a
	// forged or stale token valid.
	if errors.Is(err, engagement.ErrNotFound) {
		log.Printf("DROPPED %s: unknown token %s...", evt.EventType, truncate(evt.Token))
		return nil
	}
	if err == nil {
		log.Printf("PROCESSED %s token=%s...", evt.EventType, truncate(evt.Token))
	}
	return err
}
