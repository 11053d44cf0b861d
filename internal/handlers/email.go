package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"

	"airvend/pkg/email"
	"airvend/pkg/logging"
)

// EmailService sends transactional notifications. All configuration comes
// from SMTP_* environment variables; when they are absent the service stays
// disabled and every send is a logged no-op.
type EmailService struct {
	sender *email.Sender
	logger logging.Logger
}

// NewEmailService builds the email service from the environment.
func NewEmailService(log logging.Logger) *EmailService {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		log.Warn("SMTP_HOST not set, email notifications disabled")
		return &EmailService{logger: log}
	}

	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}

	sender := email.NewSender(email.Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		FromName: os.Getenv("SMTP_FROM_NAME"),
	})

	return &EmailService{sender: sender, logger: log}
}

// IsConfigured returns whether outbound email is enabled.
func (es *EmailService) IsConfigured() bool {
	return es != nil && es.sender != nil
}

var emailTemplates = map[string]string{
	"refund_processed": `
<h2>Refund processed</h2>
<p>Hi {{.CustomerName}},</p>
<p>Your top-up order <strong>{{.OrderID}}</strong> could not be delivered and has been refunded.</p>
<p>Amount credited back to your balance: <strong>{{.Amount}}</strong></p>
<p>Reason: {{.Reason}}</p>
<p>The credit is available immediately for your next purchase.</p>
`,
	"topup_delivered": `
<h2>Top-up delivered</h2>
<p>Hi {{.CustomerName}},</p>
<p>Your top-up for <strong>{{.RecipientPhone}}</strong> (order {{.OrderID}}) was delivered successfully.</p>
<p>Amount charged: <strong>{{.Amount}}</strong></p>
`,
	"subscription_suspended": `
<h2>Subscription suspended</h2>
<p>Your organization's subscription has been suspended.</p>
<p>Reason: {{.Reason}}</p>
<p>Storefront checkout is disabled until the subscription is reactivated. Please contact support to resolve this.</p>
`,
}

func (es *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	raw, ok := emailTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template: %s", name)
	}
	tmpl, err := template.New(name).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (es *EmailService) send(to, subject, templateName string, data interface{}) error {
	if !es.IsConfigured() {
		es.logger.WithFields(logging.Fields{
			"to":       to,
			"template": templateName,
		}).Debug("Email not configured, skipping notification")
		return nil
	}
	body, err := es.renderTemplate(templateName, data)
	if err != nil {
		return err
	}
	if err := es.sender.SendMail(context.Background(), to, subject, body); err != nil {
		es.logger.WithError(err).WithFields(logging.Fields{
			"to":       to,
			"template": templateName,
		}).Error("Failed to send email")
		return err
	}
	return nil
}

// SendRefundNotification emails a customer that a failed order was refunded.
func (es *EmailService) SendRefundNotification(to, customerName, orderID, amount, reason string) error {
	return es.send(to, "Your order was refunded", "refund_processed", map[string]string{
		"CustomerName": customerName,
		"OrderID":      orderID,
		"Amount":       amount,
		"Reason":       reason,
	})
}

// SendDeliveryNotification emails a customer that a top-up was delivered.
func (es *EmailService) SendDeliveryNotification(to, customerName, orderID, recipientPhone, amount string) error {
	return es.send(to, "Your top-up was delivered", "topup_delivered", map[string]string{
		"CustomerName":   customerName,
		"OrderID":        orderID,
		"RecipientPhone": recipientPhone,
		"Amount":         amount,
	})
}

// SendSuspensionNotification emails an organization's billing contact about a
// suspended subscription.
func (es *EmailService) SendSuspensionNotification(to, reason string) error {
	return es.send(to, "Subscription suspended", "subscription_suspended", map[string]string{
		"Reason": reason,
	})
}

// formatCents renders a minor-unit amount as a currency string for emails.
func formatCents(amountCents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(amountCents)/100, currency)
}
