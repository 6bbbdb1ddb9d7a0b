package mailer

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
)

func TestSMTPMailerSkipsWhenUnconfigured(t *testing.T) {
	m := NewSMTPMailer(cmn.MailConfig{})
	if err := m.Progress("subject", "body"); err != nil {
		t.Fatalf("expected no-op success when SMTP is unconfigured, got %v", err)
	}
	if err := m.Error("subject", "body"); err != nil {
		t.Fatalf("expected no-op success when SMTP is unconfigured, got %v", err)
	}
}

func TestNoopMailerNeverErrors(t *testing.T) {
	var m NoopMailer
	if err := m.Progress("s", "b"); err != nil {
		t.Fatalf("NoopMailer.Progress: %v", err)
	}
	if err := m.Error("s", "b"); err != nil {
		t.Fatalf("NoopMailer.Error: %v", err)
	}
}
