package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"github.com/Mekazstan/paygate/internal/events"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"github.com/shopspring/decimal"
)

type sentMail struct {
	addr string
	to   []string
	msg  string
}

func newTestService(t *testing.T) (*EmailService, *[]sentMail) {
	t.Helper()

	service, err := NewEmailService(Options{
		SMTPHost:     "smtp.gmail.com",
		SMTPPort:     "587",
		SMTPUsername: "test@example.com",
		SMTPPassword: "password",
		FromEmail:    "noreply@example.com",
		FromName:     "Test Service",
		AppURL:       "https://pay.example.com",
	})
	if err != nil {
		t.Fatalf("NewEmailService() error = %v", err)
	}

	var sent []sentMail
	service.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, to: to, msg: string(msg)})
		return nil
	}
	return service, &sent
}

func TestEmailServiceCreation(t *testing.T) {
	service, _ := newTestService(t)

	if service.opts.SMTPHost != "smtp.gmail.com" {
		t.Errorf("Expected smtpHost 'smtp.gmail.com', got '%s'", service.opts.SMTPHost)
	}
	for _, key := range []string{"payment_receipt", "payment_failed"} {
		if _, ok := service.templates[key]; !ok {
			t.Errorf("Expected template %s to be loaded", key)
		}
	}
}

func TestSendPaymentReceipt(t *testing.T) {
	service, sent := newTestService(t)

	err := service.SendPaymentReceipt("payer@example.com", PaymentReceiptData{
		Reference: "PAYSTACK_1_abc",
		Provider:  "paystack",
		Amount:    "100.00",
		Currency:  "NGN",
	})
	if err != nil {
		t.Fatalf("SendPaymentReceipt() error = %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.gmail.com:587" {
		t.Errorf("Expected addr 'smtp.gmail.com:587', got '%s'", mail.addr)
	}
	if !strings.Contains(mail.msg, "Subject: Payment received - PAYSTACK_1_abc") {
		t.Errorf("Expected receipt subject in message, got %q", mail.msg)
	}
	if !strings.Contains(mail.msg, "100.00 NGN") {
		t.Error("Expected amount in body")
	}
	if !strings.Contains(mail.msg, "https://pay.example.com") {
		t.Error("Expected app URL in body")
	}
}

func TestSendEmailUnknownTemplate(t *testing.T) {
	service, _ := newTestService(t)

	if err := service.SendEmail(EmailData{To: "a@b.com", TemplateKey: "missing"}); err == nil {
		t.Error("Expected error for unknown template")
	}
}

type fakeSender struct {
	receipts []string
	failures []string
}

func (f *fakeSender) SendPaymentReceipt(to string, data PaymentReceiptData) error {
	f.receipts = append(f.receipts, to+"|"+data.Reference)
	return nil
}

func (f *fakeSender) SendPaymentFailed(to string, data PaymentReceiptData) error {
	f.failures = append(f.failures, to+"|"+data.Reference)
	return nil
}

func TestReceiptListener(t *testing.T) {
	ctx := context.Background()
	txs := store.NewMemoryStore()
	paidAt := time.Now()
	if err := txs.Create(ctx, &store.Transaction{
		Reference: "REF_1",
		Provider:  "paystack",
		Status:    payment.StatusSuccess,
		Amount:    decimal.NewFromInt(5000),
		Currency:  "NGN",
		Email:     "payer@example.com",
		PaidAt:    &paidAt,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sender := &fakeSender{}
	listener := NewReceiptListener(sender, txs, cache.NewMemoryCache(), nil)

	ev := events.Event{Name: events.WebhookReceived, Provider: "paystack", Reference: "REF_1", Status: payment.StatusSuccess}

	t.Run("sends once per reference", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := listener.Handle(ctx, ev); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
		}
		if len(sender.receipts) != 1 {
			t.Errorf("Expected 1 receipt, got %d", len(sender.receipts))
		}
		if sender.receipts[0] != "payer@example.com|REF_1" {
			t.Errorf("Unexpected receipt %q", sender.receipts[0])
		}
	})

	t.Run("failed payment", func(t *testing.T) {
		failed := ev
		failed.Status = payment.StatusFailed
		if err := listener.Handle(ctx, failed); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sender.failures) != 1 {
			t.Errorf("Expected 1 failure notice, got %d", len(sender.failures))
		}
	})

	t.Run("ignores pending and unknown references", func(t *testing.T) {
		pending := ev
		pending.Status = payment.StatusPending
		missing := ev
		missing.Reference = "NOPE"

		for _, e := range []events.Event{pending, missing} {
			if err := listener.Handle(ctx, e); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
		}
		if len(sender.receipts) != 1 || len(sender.failures) != 1 {
			t.Errorf("Expected no additional mail, got %d receipts and %d failures",
				len(sender.receipts), len(sender.failures))
		}
	})
}
