package campaign

import (
	"context"
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"log"
	"strings"
)

// SESAPI is the part of the SES v2 client the sender needs.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers campaign messages as plain-text email to the contact's "email" field.
type SESSender struct {
	client    SESAPI
	fromEmail string
	subject   string
}

func NewSESSender(client SESAPI, fromEmail, subject string) (*SESSender, error) {
	if fromEmail == "" {
		return nil, errors.New("ses sender: from address is required")
	}
	return &SESSender{client: client, fromEmail: fromEmail, subject: subject}, nil
}

func (s *SESSender) Send(ctx context.Context, contact map[string]any, message string) error {
	to, _ := contact["email"].(string)
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("contact has no email address")
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(s.subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(message)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, contact map[string]any, message string) error {
	log.Printf("campaign: would send to %v: %q", contact["email"], message)
	return nil
}
