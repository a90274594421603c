package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/internal/core/ports"
)

// DispatcherConfig holds email dispatcher configuration
type DispatcherConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	CompanyName    string
}

// Dispatcher implements the NotificationDispatcher port on SendGrid. It is
// the only component that ever sees the plaintext token, embedded in the
// verification URL handed to it by the token service.
type Dispatcher struct {
	config    *DispatcherConfig
	logger    *logrus.Logger
	client    *sendgrid.Client
	templates map[string]*template.Template
}

// NewDispatcher creates a new SendGrid-backed dispatcher
func NewDispatcher(config *DispatcherConfig, logger *logrus.Logger) (ports.NotificationDispatcher, error) {
	client := sendgrid.NewSendClient(config.SendGridAPIKey)

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load email templates: %w", err)
	}

	return &Dispatcher{
		config:    config,
		logger:    logger,
		client:    client,
		templates: templates,
	}, nil
}

// Ensure Dispatcher implements ports.NotificationDispatcher
var _ ports.NotificationDispatcher = (*Dispatcher)(nil)

// templateNames maps a token purpose to its email template.
var templateNames = map[token.Purpose]string{
	token.PurposeEmailVerification: "verification",
	token.PurposePasswordReset:     "password_reset",
}

// loadTemplates loads all email templates from the templates directory
func loadTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	templateDir := "templates/email"

	templateFiles := []string{
		"verification.html",
		"password_reset.html",
	}

	for _, file := range templateFiles {
		name := filepath.Base(file)
		name = name[:len(name)-len(filepath.Ext(name))] // Remove .html extension

		tmpl, err := template.ParseFiles(filepath.Join(templateDir, file))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", file, err)
		}

		templates[name] = tmpl
	}

	return templates, nil
}

// LinkEmailData holds data for the verification link templates
type LinkEmailData struct {
	CompanyName     string
	VerificationURL string
}

// SendVerificationLink sends the verification URL for the given purpose.
func (d *Dispatcher) SendVerificationLink(ctx context.Context, email string, purpose token.Purpose, verificationURL string) error {
	name, ok := templateNames[purpose]
	if !ok {
		return fmt.Errorf("no email template for purpose %s", purpose)
	}

	data := LinkEmailData{
		CompanyName:     d.config.CompanyName,
		VerificationURL: verificationURL,
	}

	htmlContent, err := d.renderTemplate(name, data)
	if err != nil {
		return fmt.Errorf("failed to render %s email template: %w", name, err)
	}

	var subject string
	switch purpose {
	case token.PurposePasswordReset:
		subject = fmt.Sprintf("Reset Your Password - %s", d.config.CompanyName)
	default:
		subject = fmt.Sprintf("Verify Your Email Address - %s", d.config.CompanyName)
	}

	return d.sendEmail(email, subject, htmlContent)
}

// sendEmail sends an email using SendGrid
func (d *Dispatcher) sendEmail(to, subject, htmlContent string) error {
	from := mail.NewEmail(d.config.FromName, d.config.FromEmail)
	recipient := mail.NewEmail("", to)

	message := mail.NewSingleEmail(from, subject, recipient, "", htmlContent)

	response, err := d.client.Send(message)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).WithError(err).Error("failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		d.logger.WithFields(logrus.Fields{
			"to":          to,
			"subject":     subject,
			"status_code": response.StatusCode,
		}).Error("email provider rejected message")
		return fmt.Errorf("email provider returned status %d", response.StatusCode)
	}

	d.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("email dispatched")
	return nil
}

// renderTemplate renders an email template with the provided data
func (d *Dispatcher) renderTemplate(templateName string, data interface{}) (string, error) {
	tmpl, exists := d.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	return buf.String(), nil
}
