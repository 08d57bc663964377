// Package tracking is the lightweight email-tracking edge: it answers pixel
// and tracked-link hits instantly and buffers the facts through SQS so the
// main API's database is never on the mail client's critical path.
package tracking

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type EventType string

const (
	EventOpen EventType = "opened"
	EventView EventType = "viewed"
)

// TrackingEvent is the queue message for one pixel or link hit. The token is
// the only delivery handle that ever leaves the server.
type TrackingEvent struct {
	EventType EventType `json:"event_type"`
	Token     string    `json:"token"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher struct {
	client   *sqs.Client
	queueURL string
}

func NewPublisher(client *sqs.Client, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish enqueues the event fire-and-forget. A lost message is a lost data
// point, never a failed pixel.
func (p *Publisher) Publish(ctx context.Context, evt TrackingEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("ERROR marshal tracking event: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			log.Printf("ERROR publishing to SQS: %v", err)
		}
	}()
}
