package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"ab@example.com":       "***@example.com",
		"a@example.com":        "***@example.com",
		"not-an-email":         "***@***",
	}
	for in, want := range cases {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactPIIValue_MasksSecretFields(t *testing.T) {
	cases := []struct{ key, val string }{
		{"admin_token", "super-secret-value"},
		{"api_key", "sk-live-abc123"},
		{"oauth_client_secret", "shh"},
	}
	for _, c := range cases {
		if got := redactPIIValue(c.key, c.val); got != "***" {
			t.Errorf("redactPIIValue(%q, %q) = %q, want ***", c.key, c.val, got)
		}
	}
}

func TestRedactPIIValue_MasksEmailFields(t *testing.T) {
	got := redactPIIValue("recipient_email", "ann@acme.com")
	if got != "an***@acme.com" {
		t.Errorf("redactPIIValue(recipient_email) = %q", got)
	}
}

func TestRedactPIIValue_RedactsEmbeddedEmailInGenericField(t *testing.T) {
	got := redactPIIValue("detail", "sent to ann@acme.com successfully")
	if got == "sent to ann@acme.com successfully" {
		t.Error("expected embedded email to be redacted")
	}
}
