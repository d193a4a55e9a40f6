package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendquill/sendquill/internal/domain"
)

type fakeSES struct {
	got *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSend_BuildsSimpleMessage(t *testing.T) {
	api := &fakeSES{}
	tr := NewWithClient(api, FromAddress("SendQuill", "news@sendquill.test"))

	res, err := tr.Send(context.Background(), &domain.EmailMessage{
		CampaignID:  "c1",
		RecipientID: "r1",
		To:          "ann@example.com",
		Subject:     "Hi",
		HTMLBody:    "<p>Hi</p>",
	}, "ignored-token")
	require.NoError(t, err)

	assert.Equal(t, "ses-1", res.MessageID)
	assert.Equal(t, domain.TransportSES, res.Transport)
	require.NotNil(t, api.got)
	assert.Equal(t, "SendQuill <news@sendquill.test>", aws.ToString(api.got.FromEmailAddress))
	assert.Equal(t, []string{"ann@example.com"}, api.got.Destination.ToAddresses)
	assert.Equal(t, "<p>Hi</p>", aws.ToString(api.got.Content.Simple.Body.Html.Data))
	assert.Equal(t, "Hi", aws.ToString(api.got.Content.Simple.Subject.Data))
	require.Len(t, api.got.EmailTags, 2)
	assert.Equal(t, "r1", aws.ToString(api.got.EmailTags[1].Value))
}

func TestSend_WrapsError(t *testing.T) {
	tr := NewWithClient(&fakeSES{err: errors.New("MessageRejected: Email address is not verified")}, "x@y.test")
	_, err := tr.Send(context.Background(), &domain.EmailMessage{To: "a@b.test"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageRejected")
}

func TestFromAddress(t *testing.T) {
	assert.Equal(t, "a@b.test", FromAddress("", "a@b.test"))
	assert.Equal(t, "Team <a@b.test>", FromAddress("Team", "a@b.test"))
	assert.Equal(t, domain.TransportSES, NewWithClient(&fakeSES{}, "").Kind())
}
