package notify

import (
	"context"
	"strings"
	"testing"
)

func TestNewSenderFallsBackToLog(t *testing.T) {
	sender, err := NewSender()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := sender.(*LogSender); !ok {
		t.Errorf("sender = %T, want *LogSender", sender)
	}
	if err := sender.Deliver(context.Background(), "a@example.com", "s", "body", ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSMTPSenderRequiresHostAndFrom(t *testing.T) {
	if _, err := NewSMTPSender(WithSMTPFrom("todo@example.com")); err == nil {
		t.Error("missing host accepted")
	}
	if _, err := NewSMTPSender(WithSMTPHost("smtp.example.com")); err == nil {
		t.Error("missing from address accepted")
	}
	s, err := NewSMTPSender(WithSMTPHost("smtp.example.com"), WithSMTPFrom("todo@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.port != 587 {
		t.Errorf("default port = %d, want 587", s.port)
	}
}

func TestNewTwilioSenderRequiresCredentials(t *testing.T) {
	if _, err := NewTwilioSender(WithTwilioFromNumber("+15550001111")); err == nil {
		t.Error("missing credentials accepted")
	}
	if _, err := NewTwilioSender(WithTwilioAccountSID("AC123"), WithTwilioAuthToken("tok")); err == nil {
		t.Error("missing from number accepted")
	}
}

func TestBuildMessagePlainText(t *testing.T) {
	msg, err := buildMessage("todo@example.com", "alice@example.com", "Reminder", "plain body", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(msg)
	for _, want := range []string{
		"From: todo@example.com",
		"To: alice@example.com",
		"Subject: Reminder",
		"text/plain",
		"plain body",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "multipart/alternative") {
		t.Error("plain message should not be multipart")
	}
}

func TestBuildMessageMultipart(t *testing.T) {
	msg, err := buildMessage("todo@example.com", "alice@example.com", "Reminder", "plain body", "<p>html body</p>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(msg)
	for _, want := range []string{
		"multipart/alternative",
		"text/plain",
		"text/html",
		"plain body",
		"<p>html body</p>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q:\n%s", want, s)
		}
	}
}
