// Package notify delivers owner notifications for proposal engagement
// transitions (email opened, proposal viewed, high engagement, signed).
// Dispatch is best-effort: callers swallow errors so a notification failure
// never fails the tracking call that triggered it.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	appconfig "github.com/ignite/proposal-pulse/internal/config"
	"github.com/ignite/proposal-pulse/internal/engagement"
)

// template pair per notification kind; bodies are plain text, rendered with
// liquid so the copy can be tweaked without touching dispatch code.
var templates = map[engagement.NotificationKind]struct {
	subject string
	body    string
}{
	engagement.NotifyEmailOpened: {
		subject: "Proposal Email Opened",
		body: `Good news: {{ recipient }} opened your proposal email.

Proposal: {{ proposal_id }}
Opened:   {{ when }}

They haven't viewed the full proposal yet. You'll get another notification when they do.
`,
	},
	engagement.NotifyProposalViewed: {
		subject: "Proposal Viewed",
		body: `{{ recipient }} is viewing your proposal right now.

Proposal: {{ proposal_id }}
Viewed:   {{ when }}
`,
	},
	engagement.NotifyHighEngagement: {
		subject: "High Engagement Alert",
		body: `{{ recipient }} has spent over {{ minutes }} minutes on your proposal.

Proposal:   {{ proposal_id }}
Time spent: {{ seconds }} seconds

This is a strong buying signal. Consider reaching out while the proposal is top of mind.
`,
	},
	engagement.NotifyProposalSigned: {
		subject: "Proposal Signed",
		body: `{{ recipient }} signed your proposal.

Proposal: {{ proposal_id }}
Signed:   {{ when }}
`,
	},
}

// SESNotifier sends owner notifications through AWS SES.
type SESNotifier struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	engine    *liquid.Engine
}

// NewSESNotifier creates an SES-backed notifier.
func NewSESNotifier(ctx context.Context, cfg appconfig.SESConfig) (*SESNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESNotifier{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		engine:    liquid.NewEngine(),
	}, nil
}

// Notify renders and sends one notification email to the proposal owner.
func (n *SESNotifier) Notify(ctx context.Context, note engagement.Notification) error {
	tmpl, ok := templates[note.Kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", note.Kind)
	}

	bindings := map[string]interface{}{
		"recipient":   note.RecipientEmail,
		"proposal_id": note.ProposalID.String(),
		"when":        time.Now().Format(time.RFC1123),
		"seconds":     note.TimeSpent,
		"minutes":     note.TimeSpent / 60,
	}

	body, err := n.engine.ParseAndRenderString(tmpl.body, bindings)
	if err != nil {
		return fmt.Errorf("render %s body: %w", note.Kind, err)
	}

	from := n.fromEmail
	if n.fromName != "" {
		from = fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)
	}

	_, sendErr := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{note.OwnerEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(tmpl.subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if sendErr != nil {
		return fmt.Errorf("ses send: %w", sendErr)
	}

	log.Printf("NOTIFY %s: proposal=%s owner=%s", note.Kind, note.ProposalID, note.OwnerEmail)
	return nil
}

// NopNotifier discards notifications. Used when SES is disabled.
type NopNotifier struct{}

// Notify implements engagement.Notifier.
func (NopNotifier) Notify(context.Context, engagement.Notification) error {
	return nil
}
