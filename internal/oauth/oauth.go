// Package oauth implements the OAuth Session Manager (spec §4.J): an
// in-memory, lazily-GC'd table of device-flow login sessions for the three
// CLI-backed providers the Auto-Rotate backends need credentials for
// (codex, qwen, gemini).
package oauth

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one device-auth session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// sessionTTL is how long a pending session may go without completing
// before Poll marks it expired (spec §4.J "15 min lazy GC"). GC uses the
// same window to evict any session, whatever its status, left unpolled
// that long.
const sessionTTL = 15 * time.Minute

// verificationWatchTimeout bounds how long Start waits for the spawned
// CLI's stdout to reveal a verification URL before giving up (spec §4.J
// "never holds the HTTP caller [longer than] 30s").
const verificationWatchTimeout = 30 * time.Second

// Session is the OAuthSession value returned to callers; never an error
// value itself (spec §7 "never throws" — OAuthPending/Expired are returned,
// not raised).
type Session struct {
	ID               string    `json:"session_id"`
	Provider         string    `json:"provider"`
	Status           Status    `json:"status"`
	VerificationURL  string    `json:"verification_url,omitempty"`
	UserCode         string    `json:"user_code,omitempty"`
	CreatedAt        time.Time `json:"-"`
	lastPolledAt     time.Time
}

// ProviderConfig names the external CLI this provider's device flow spawns
// and where to find its resulting credentials file once login completes.
type ProviderConfig struct {
	Provider          string
	Command           string
	Args              []string
	CredentialsPath   func() (string, error)
	VerificationRegex *regexp.Regexp
	UserCodeRegex     *regexp.Regexp
}

// credentialsFile is the minimal shape every provider's credentials JSON
// shares: an access token and a millisecond Unix expiry.
type credentialsFile struct {
	AccessToken string `json:"access_token"`
	ExpiryDate  int64  `json:"expiry_date"`
}

// Manager is the in-memory session_id -> Session table plus the provider
// registry needed to spawn and observe each device flow.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cmds     map[string]*exec.Cmd // session_id -> spawned CLI, for cleanup

	providers map[string]ProviderConfig
	now       func() time.Time
}

// NewManager constructs a Manager for the given providers, keyed by
// ProviderConfig.Provider.
func NewManager(providers []ProviderConfig) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		cmds:      make(map[string]*exec.Cmd),
		providers: make(map[string]ProviderConfig),
		now:       time.Now,
	}
	for _, p := range providers {
		m.providers[p.Provider] = p
	}
	return m
}

// Start spawns the provider's CLI in device-flow mode and watches its
// stdout until a verification URL is captured or verificationWatchTimeout
// elapses. It returns as soon as the URL is known — it never blocks the
// caller for the full device-flow duration (spec §4.J).
func (m *Manager) Start(ctx context.Context, provider string) (Session, error) {
	cfg, ok := m.providers[provider]
	if !ok {
		return Session{}, fmt.Errorf("oauth: unknown provider %q", provider)
	}

	sessionID := uuid.NewString()
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Session{}, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Session{}, fmt.Errorf("oauth: spawn %s: %w", cfg.Command, err)
	}

	sess := &Session{ID: sessionID, Provider: provider, Status: StatusPending, CreatedAt: m.now()}
	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.cmds[sessionID] = cmd
	m.mu.Unlock()

	found := make(chan struct{})
	go watchStdout(stdout, cfg, sess, found)
	go cmd.Wait() // reap regardless of how long the device flow takes

	select {
	case <-found:
	case <-time.After(verificationWatchTimeout):
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[sessionID], nil
}

// watchStdout scans the CLI's combined stdout/stderr for the provider's
// verification-URL and user-code patterns, filling each into sess as soon
// as it is seen, and closes found once the verification URL is known (or
// when the output ends without one). It keeps draining stdout after
// that so the child process is never blocked on a full pipe.
func watchStdout(r io.Reader, cfg ProviderConfig, sess *Session, found chan struct{}) {
	sc := bufio.NewScanner(r)
	signaled := false
	for sc.Scan() {
		line := sc.Text()
		if sess.VerificationURL == "" && cfg.VerificationRegex != nil {
			if m := cfg.VerificationRegex.FindStringSubmatch(line); len(m) > 1 {
				sess.VerificationURL = m[1]
			}
		}
		if sess.UserCode == "" && cfg.UserCodeRegex != nil {
			if m := cfg.UserCodeRegex.FindStringSubmatch(line); len(m) > 1 {
				sess.UserCode = m[1]
			}
		}
		if !signaled && sess.VerificationURL != "" {
			signaled = true
			close(found)
		}
	}
	if !signaled {
		close(found)
	}
}

// Poll is idempotent: it may transition a session from pending to
// completed (by observing the provider's credentials file now holds a
// non-expired access token) or to expired (when sessionTTL has elapsed
// with no completion). Returns (Session{}, false) for an unknown id.
func (m *Manager) Poll(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	sess.lastPolledAt = m.now()

	if sess.Status == StatusPending {
		if completed := m.checkCompleted(sess); completed {
			sess.Status = StatusCompleted
		} else if m.now().Sub(sess.CreatedAt) > sessionTTL {
			sess.Status = StatusExpired
		}
	}
	return *sess, true
}

func (m *Manager) checkCompleted(sess *Session) bool {
	cfg, ok := m.providers[sess.Provider]
	if !ok || cfg.CredentialsPath == nil {
		return false
	}
	path, err := cfg.CredentialsPath()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return false
	}
	if creds.AccessToken == "" {
		return false
	}
	if creds.ExpiryDate != 0 && creds.ExpiryDate <= m.now().UnixMilli() {
		return false
	}
	return true
}

// GC evicts sessions that have sat unpolled for longer than sessionTTL,
// regardless of status. It is lazy: it runs only when a caller invokes it,
// and Manager has no timer of its own.
func (m *Manager) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, sess := range m.sessions {
		last := sess.lastPolledAt
		if last.IsZero() {
			last = sess.CreatedAt
		}
		if now.Sub(last) > sessionTTL {
			delete(m.sessions, id)
			delete(m.cmds, id)
		}
	}
}
