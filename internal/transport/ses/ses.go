// Package ses delivers campaign mail through Amazon SES v2 from a fixed,
// verified sender address. It does not use the campaign owner's token.
package ses

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/sendquill/sendquill/internal/config"
	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/pkg/logger"
)

// EmailAPI is the subset of the SES v2 client the transport calls.
type EmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends through SES SendEmail.
type Transport struct {
	client EmailAPI
	from   string
	now    func() time.Time
}

// New builds a transport from config. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func New(ctx context.Context, cfg config.SESConfig) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(sesv2.NewFromConfig(awsCfg), FromAddress(cfg.FromName, cfg.FromEmail)), nil
}

// NewWithClient wraps an existing SES client.
func NewWithClient(client EmailAPI, from string) *Transport {
	return &Transport{client: client, from: from, now: time.Now}
}

// FromAddress formats the sender as "Name <email>" when a name is set.
func FromAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Kind implements sending.Transport.
func (t *Transport) Kind() domain.TransportKind { return domain.TransportSES }

// Send implements sending.Transport. The access token is ignored.
func (t *Transport) Send(ctx context.Context, msg *domain.EmailMessage, _ string) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses accepted message", "to", msg.To, "message_id", messageID)

	return &domain.SendResult{
		MessageID: messageID,
		Transport: domain.TransportSES,
		SentAt:    t.now().UTC(),
	}, nil
}
