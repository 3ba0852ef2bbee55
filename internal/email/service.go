package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
)

type Options struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
	AppURL       string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailService struct {
	opts      Options
	templates map[string]*template.Template
	send      sendFunc
}

type EmailData struct {
	To          string
	Subject     string
	TemplateKey string
	Data        interface{}
}

func NewEmailService(opts Options) (*EmailService, error) {
	service := &EmailService{
		opts:      opts,
		templates: make(map[string]*template.Template),
		send:      smtp.SendMail,
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return service, nil
}

func (s *EmailService) loadTemplates() error {
	templates := map[string]string{
		"payment_receipt": paymentReceiptTemplate,
		"payment_failed":  paymentFailedTemplate,
	}

	for key, body := range templates {
		tmpl, err := template.New(key).Parse(body)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		s.templates[key] = tmpl
	}

	return nil
}

func (s *EmailService) SendEmail(data EmailData) error {
	tmpl, ok := s.templates[data.TemplateKey]
	if !ok {
		return fmt.Errorf("template %s not found", data.TemplateKey)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data.Data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	message := fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s", s.opts.FromName, s.opts.FromEmail, data.To, data.Subject, body.String())

	auth := smtp.PlainAuth("", s.opts.SMTPUsername, s.opts.SMTPPassword, s.opts.SMTPHost)
	addr := fmt.Sprintf("%s:%s", s.opts.SMTPHost, s.opts.SMTPPort)

	err := s.send(addr, auth, s.opts.FromEmail, []string{data.To}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

type PaymentReceiptData struct {
	Reference string
	Provider  string
	Amount    string
	Currency  string
	Channel   string
	PaidAt    string
	AppURL    string
}

func (s *EmailService) SendPaymentReceipt(to string, data PaymentReceiptData) error {
	if data.AppURL == "" {
		data.AppURL = s.opts.AppURL
	}
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     fmt.Sprintf("Payment received - %s", data.Reference),
		TemplateKey: "payment_receipt",
		Data:        data,
	})
}

func (s *EmailService) SendPaymentFailed(to string, data PaymentReceiptData) error {
	if data.AppURL == "" {
		data.AppURL = s.opts.AppURL
	}
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     fmt.Sprintf("Payment not completed - %s", data.Reference),
		TemplateKey: "payment_failed",
		Data:        data,
	})
}

const paymentReceiptTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment receipt</title>
</head>
<body>
    <p>We received your payment of {{.Amount}} {{.Currency}}.</p>
    <p>Reference: {{.Reference}}<br>Processed by: {{.Provider}}{{if .Channel}} ({{.Channel}}){{end}}</p>
    {{if .PaidAt}}<p>Paid at: {{.PaidAt}}</p>{{end}}
    {{if .AppURL}}<p><a href="{{.AppURL}}">View your account</a></p>{{end}}
</body>
</html>
`

const paymentFailedTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment not completed</title>
</head>
<body>
    <p>Your payment of {{.Amount}} {{.Currency}} (reference {{.Reference}}) was not completed.</p>
    {{if .AppURL}}<p><a href="{{.AppURL}}">Try again</a></p>{{end}}
</body>
</html>
`
