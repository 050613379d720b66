package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"screentime/internal/models"
	"screentime/internal/validation"
)

type sendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService sends conflict alerts via Amazon SES
type EmailService struct {
	client     sendEmailAPI
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	logger     *zap.Logger
}

// NewEmailService creates a new email service. An empty fromEmail yields a
// disabled service that skips every send.
func NewEmailService(ctx context.Context, awsRegion, fromEmail, fromName, appBaseURL string, logger *zap.Logger) (*EmailService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("email")

	if fromEmail == "" {
		logger.Info("email service disabled: SES_FROM_EMAIL not configured")
		return &EmailService{enabled: false, logger: logger}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("email service enabled", zap.String("from", fromEmail), zap.String("region", awsRegion))
	return newEmailService(sesv2.NewFromConfig(cfg), fromEmail, fromName, appBaseURL, logger), nil
}

func newEmailService(client sendEmailAPI, fromEmail, fromName, appBaseURL string, logger *zap.Logger) *EmailService {
	return &EmailService{
		client:     client,
		fromEmail:  fromEmail,
		fromName:   fromName,
		appBaseURL: appBaseURL,
		enabled:    true,
		logger:     logger,
	}
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendConflictNotification tells each recipient that a shared record needs a
// parent to choose between concurrent edits. Recipients without an email
// address are skipped. Every send is attempted; the first failure is returned.
func (s *EmailService) SendConflictNotification(ctx context.Context, recipients []models.User, familyName string, conflict *models.ConflictMetadata) error {
	if !s.enabled {
		s.logger.Debug("skipping conflict alert (service disabled)", zap.String("conflict_id", conflict.ID))
		return nil
	}

	link := fmt.Sprintf("%s/families/%s/conflicts/%s", s.appBaseURL, conflict.FamilyID, conflict.ID)
	subject := fmt.Sprintf("%s: two parents changed the same %s", familyName, describeRecordType(conflict.RecordType))

	var firstErr error
	for _, user := range recipients {
		if err := validation.ValidateEmail(user.Email); err != nil {
			if user.Email != "" {
				s.logger.Warn("skipping conflict alert to invalid address", zap.String("user_id", user.ID), zap.Error(err))
			}
			continue
		}
		htmlBody, textBody := conflictEmailBodies(user.Name, familyName, conflict, link)
		if err := s.sendEmail(ctx, user.Email, subject, htmlBody, textBody); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func describeRecordType(recordType string) string {
	switch recordType {
	case models.RecordTypeChildProfile:
		return "child profile"
	case models.RecordTypeAppCategorization:
		return "app setting"
	case models.RecordTypeFamilySettings:
		return "family settings"
	case models.RecordTypeFamily:
		return "family"
	default:
		return "record"
	}
}

func conflictEmailBodies(toName, familyName string, conflict *models.ConflictMetadata, link string) (string, string) {
	var htmlChanges, textChanges strings.Builder
	for i, change := range conflict.Changes {
		var fields []string
		for _, fc := range change.FieldChanges {
			fields = append(fields, fmt.Sprintf("%s = %q", fc.FieldName, fc.NewValueString()))
		}
		summary := strings.Join(fields, ", ")
		if change.ChangeType == models.ChangeDelete {
			summary = "deleted"
		}
		when := change.Timestamp.UTC().Format("Jan 2 15:04:05 MST")
		fmt.Fprintf(&htmlChanges, "\t\t\t\t<li>Option %d (%s): %s</li>\n", i+1, html.EscapeString(when), html.EscapeString(summary))
		fmt.Fprintf(&textChanges, "- Option %d (%s): %s\n", i+1, when, summary)
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #4a90e2; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.button { display: inline-block; padding: 12px 30px; background-color: #4a90e2; color: white; text-decoration: none; border-radius: 5px; margin: 20px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>Changes need your decision</h1>
		</div>
		<div class="content">
			<p>Hi %s,</p>
			<p>Two parents in %s changed the same %s at almost the same time, and the changes could not be combined.</p>
			<ul>
%s			</ul>
			<p style="text-align: center;">
				<a href="%s" class="button">Choose a version</a>
			</p>
		</div>
		<div class="footer">
			<p>This is an automated email from Screen Time. Please do not reply.</p>
		</div>
	</div>
</body>
</html>
`, html.EscapeString(toName), html.EscapeString(familyName), describeRecordType(conflict.RecordType), htmlChanges.String(), link)

	textBody := fmt.Sprintf(`Hi %s,

Two parents in %s changed the same %s at almost the same time, and the changes could not be combined.

%s
Choose a version: %s

---
This is an automated email from Screen Time. Please do not reply.
`, toName, familyName, describeRecordType(conflict.RecordType), textChanges.String(), link)

	return htmlBody, textBody
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	fields := []zap.Field{zap.String("to", toEmail), zap.String("subject", subject)}
	if result != nil && result.MessageId != nil {
		fields = append(fields, zap.String("message_id", *result.MessageId))
	}
	s.logger.Info("email sent", fields...)
	return nil
}
