package campaign

import (
	"context"
	"errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{}, f.err
}

func TestSESSender(t *testing.T) {
	ses := &fakeSES{}
	s, err := NewSESSender(ses, "outreach@example.com", "Quick question")
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), map[string]any{"email": "ana@example.com"}, "Hi Ana"))
	require.NotNil(t, ses.input)
	assert.Equal(t, "outreach@example.com", aws.ToString(ses.input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, ses.input.Destination.ToAddresses)
	assert.Equal(t, "Hi Ana", aws.ToString(ses.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "Quick question", aws.ToString(ses.input.Content.Simple.Subject.Data))
}

func TestSESSender_Errors(t *testing.T) {
	_, err := NewSESSender(&fakeSES{}, "", "subject")
	assert.Error(t, err)

	ses := &fakeSES{err: errors.New("throttled")}
	s, err := NewSESSender(ses, "outreach@example.com", "subject")
	require.NoError(t, err)

	assert.EqualError(t, s.Send(context.Background(), map[string]any{"name": "no address"}, "hi"), "contact has no email address")

	err = s.Send(context.Background(), map[string]any{"email": "ana@example.com"}, "hi")
	assert.ErrorContains(t, err, "throttled")
}

func TestTemplateDrafter(t *testing.T) {
	d := TemplateDrafter{}
	contact := map[string]any{"name": "Ana", "company": "Acme"}

	msg, err := d.Draft(context.Background(), jobs.CampaignParams{MessageTemplate: "Hi {{name}}, how is {{ company }}? {{missing}}"}, contact, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, how is Acme?", msg)

	msg, err = d.Draft(context.Background(), jobs.CampaignParams{}, contact, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana,", msg)
}
