package oauth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T, credsPath string) ProviderConfig {
	t.Helper()
	return ProviderConfig{
		Provider: "fake",
		Command:  "sh",
		Args:     []string{"-c", "printf 'Please visit: https://example.com/device\\nEnter code: ABCD-1234\\n'; sleep 5"},
		CredentialsPath: func() (string, error) {
			return credsPath, nil
		},
		VerificationRegex: verificationURLPattern,
		UserCodeRegex:     userCodePattern,
	}
}

func TestStartCapturesVerificationURLWithoutBlocking(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "creds.json")

	m := NewManager([]ProviderConfig{testConfig(t, credsPath)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	sess, err := m.Start(ctx, "fake")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Start blocked far longer than needed to observe the verification line")
	}
	if sess.VerificationURL != "https://example.com/device" {
		t.Fatalf("unexpected verification URL: %q", sess.VerificationURL)
	}
	if sess.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", sess.Status)
	}
}

func TestPollTransitionsToCompletedWhenCredentialsAppear(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "creds.json")

	m := NewManager([]ProviderConfig{testConfig(t, credsPath)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := m.Start(ctx, "fake")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	polled, ok := m.Poll(sess.ID)
	if !ok || polled.Status != StatusPending {
		t.Fatalf("expected pending before credentials exist, got %+v ok=%v", polled, ok)
	}

	creds := credentialsFile{AccessToken: "tok", ExpiryDate: time.Now().Add(time.Hour).UnixMilli()}
	data, _ := json.Marshal(creds)
	if err := os.WriteFile(credsPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	polled, ok = m.Poll(sess.ID)
	if !ok || polled.Status != StatusCompleted {
		t.Fatalf("expected completed after credentials written, got %+v ok=%v", polled, ok)
	}
}

func TestPollUnknownSessionReturnsNotOK(t *testing.T) {
	m := NewManager(DefaultProviders())
	_, ok := m.Poll("does-not-exist")
	if ok {
		t.Fatal("expected ok=false for an unknown session id")
	}
}

func TestPollExpiresStaleSession(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "creds.json")
	m := NewManager([]ProviderConfig{testConfig(t, credsPath)})
	m.now = func() time.Time { return time.Unix(0, 0) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := m.Start(ctx, "fake")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.now = func() time.Time { return time.Unix(0, 0).Add(20 * time.Minute) }
	polled, ok := m.Poll(sess.ID)
	if !ok || polled.Status != StatusExpired {
		t.Fatalf("expected expired after TTL elapsed, got %+v ok=%v", polled, ok)
	}
}

func TestExpiredCredentialsDoNotCountAsCompleted(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "creds.json")
	m := NewManager([]ProviderConfig{testConfig(t, credsPath)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := m.Start(ctx, "fake")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	creds := credentialsFile{AccessToken: "tok", ExpiryDate: time.Now().Add(-time.Hour).UnixMilli()}
	data, _ := json.Marshal(creds)
	os.WriteFile(credsPath, data, 0o644)

	polled, ok := m.Poll(sess.ID)
	if !ok || polled.Status != StatusPending {
		t.Fatalf("expected still-pending for expired credentials, got %+v ok=%v", polled, ok)
	}
}
