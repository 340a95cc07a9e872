package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
)

const (
	installTimeout   = 300 * time.Second
	stopScriptTimeout = 10 * time.Second
	gracefulWait      = 5 * time.Second
	pidFilename       = ".pocketpaw.pid"
	logFilename       = ".pocketpaw.log"
	chatHistoryFilename = "chat_history.json"
)

// runningProcess tracks one in-memory plugin process, the Go analogue of
// the Python original's `_running_processes: dict[str, Process]`.
type runningProcess struct {
	cmd  *exec.Cmd
	port int
}

func (p *runningProcess) alive() bool {
	return p.cmd != nil && p.cmd.ProcessState == nil
}

// Supervisor is the Plugin Supervisor (spec §4.I): it embeds a Registry for
// manifest resolution and owns the PluginRuntime table exclusively (spec §3
// "Ownership").
type Supervisor struct {
	registry *Registry

	mu      sync.Mutex
	running map[string]*runningProcess

	proxyLimiters   map[string]*rate.Limiter
	proxyLimitersMu sync.Mutex

	httpClient *http.Client
}

// NewSupervisor constructs a Supervisor bound to one plugins directory.
func NewSupervisor(registry *Registry) *Supervisor {
	return &Supervisor{
		registry:      registry,
		running:       make(map[string]*runningProcess),
		proxyLimiters: make(map[string]*rate.Limiter),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Registry exposes the bound Registry so callers can List/Get without a
// second binding.
func (s *Supervisor) Registry() *Registry { return s.registry }

// --- install -----------------------------------------------------------

// Install resolves source (builtin:<id>, a git URL/shorthand, or a local
// directory) and unpacks it to <plugins_dir>/<id>, per spec §4.H/§4.I.
// On failure the destination directory is removed (atomic install).
func (s *Supervisor) Install(ctx context.Context, source string) (OperationResult, error) {
	if err := ValidateSource(source); err != nil {
		return OperationResult{}, fmt.Errorf("%w: %q doesn't look like a valid app source", err, source)
	}

	if id, ok := strings.CutPrefix(source, "builtin:"); ok {
		return s.installBuiltin(ctx, id)
	}

	if fi, err := os.Stat(expandHome(source)); err == nil && fi.IsDir() {
		return s.installFromDir(expandHome(source))
	}

	return s.installFromGit(ctx, source)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (s *Supervisor) installBuiltin(ctx context.Context, galleryID string) (OperationResult, error) {
	entry, ok := FindGalleryEntry(galleryID)
	if !ok {
		return OperationResult{}, fmt.Errorf("%w: no builtin plugin %q", ErrNotFound, galleryID)
	}
	dest := s.registry.PluginDir(entry.ID)

	switch {
	case len(entry.InlineFiles) > 0:
		if err := writeInlineFiles(dest, entry.InlineFiles); err != nil {
			os.RemoveAll(dest)
			return OperationResult{}, err
		}
	case entry.GitURL != "":
		if _, err := s.cloneAndCopy(ctx, entry.GitURL, entry.ID); err != nil {
			return OperationResult{}, err
		}
	case entry.SourceDir != "":
		if err := copyTree(entry.SourceDir, dest); err != nil {
			os.RemoveAll(dest)
			return OperationResult{}, err
		}
	default:
		return OperationResult{}, fmt.Errorf("plugins: builtin %q declares no install source", galleryID)
	}

	if err := s.runInstallScript(ctx, dest); err != nil {
		os.RemoveAll(dest)
		return OperationResult{}, &pocketerr.PluginInstallFailedError{PluginID: entry.ID, Reason: err.Error()}
	}

	return OperationResult{Status: ResultOK, Message: entry.Name + " has been added!", PluginID: entry.ID}, nil
}

func writeInlineFiles(dest string, files map[string]string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for rel, content := range files {
		full := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if strings.HasSuffix(rel, ".sh") {
			mode = 0o755
		}
		if err := os.WriteFile(full, []byte(content), mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) installFromDir(src string) (OperationResult, error) {
	m, err := readManifest(src)
	if err != nil || m == nil {
		return OperationResult{}, ErrNoManifest
	}
	id := filepath.Base(src)
	dest := s.registry.PluginDir(id)
	os.RemoveAll(dest)
	if err := copyTree(src, dest); err != nil {
		os.RemoveAll(dest)
		return OperationResult{}, err
	}
	return OperationResult{Status: ResultOK, Message: m.Name + " has been added!", PluginID: id}, nil
}

func (s *Supervisor) installFromGit(ctx context.Context, source string) (OperationResult, error) {
	gitURL := source
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") && !strings.HasPrefix(source, "git@") {
		parts := strings.Split(source, "/")
		if len(parts) != 2 {
			return OperationResult{}, fmt.Errorf("%w: try user/repo or a full GitHub URL", ErrInvalidSource)
		}
		gitURL = "https://github.com/" + source + ".git"
	}

	id, err := s.cloneAndCopy(ctx, gitURL, "")
	if err != nil {
		return OperationResult{}, err
	}
	dest := s.registry.PluginDir(id)
	m, err := readManifest(dest)
	if err != nil || m == nil {
		return OperationResult{}, ErrNoManifest
	}
	if err := s.runInstallScript(ctx, dest); err != nil {
		os.RemoveAll(dest)
		return OperationResult{}, &pocketerr.PluginInstallFailedError{PluginID: id, Reason: err.Error()}
	}
	return OperationResult{Status: ResultOK, Message: m.Name + " has been added!", PluginID: id}, nil
}

// cloneAndCopy shallow-clones gitURL into a temp dir, copies it into
// <plugins_dir>/<id> (id derived from the repo name unless forceID is set),
// and strips .git. Requires the destination to carry a manifest.
func (s *Supervisor) cloneAndCopy(ctx context.Context, gitURL, forceID string) (string, error) {
	tmp, err := os.MkdirTemp("", "pocketpaw-plugin-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	cloneCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth=1", gitURL, tmp)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errText := strings.ToLower(stderr.String())
		if strings.Contains(errText, "not found") || strings.Contains(errText, "404") {
			return "", fmt.Errorf("couldn't find that app, double-check the URL and try again")
		}
		return "", fmt.Errorf("couldn't download the app: %w", err)
	}

	m, err := readManifest(tmp)
	if err != nil || m == nil {
		return "", ErrNoManifest
	}

	id := forceID
	if id == "" {
		repo := strings.TrimSuffix(strings.TrimSuffix(gitURL, "/"), ".git")
		id = repo[strings.LastIndex(repo, "/")+1:]
	}
	dest := s.registry.PluginDir(id)
	os.RemoveAll(dest)
	if err := copyTree(tmp, dest); err != nil {
		os.RemoveAll(dest)
		return "", err
	}
	os.RemoveAll(filepath.Join(dest, ".git"))
	return id, nil
}

func (s *Supervisor) runInstallScript(ctx context.Context, dest string) error {
	m, err := readManifest(dest)
	if err != nil || m == nil {
		return ErrNoManifest
	}
	var shell string
	switch {
	case fileExists(filepath.Join(dest, "install.sh")):
		shell = "bash install.sh"
	case m.Install != "":
		shell = m.Install
	default:
		return nil
	}

	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	cmd := exec.CommandContext(installCtx, "sh", "-c", shell)
	cmd.Dir = dest
	cmd.Env = installEnv(dest)
	return cmd.Run()
}

func installEnv(dest string) []string {
	env := os.Environ()
	venvBin := filepath.Join(dest, "venv", "bin")
	if fileExists(venvBin) {
		env = append(env, "PATH="+venvBin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return env
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// --- launch / status -----------------------------------------------------

// Launch spawns the plugin's start command as the leader of a new process
// group. It returns immediately — it does not wait for the child to become
// ready (spec §4.I).
func (s *Supervisor) Launch(ctx context.Context, id string) (OperationResult, error) {
	s.mu.Lock()
	if rp, ok := s.running[id]; ok && rp.alive() {
		s.mu.Unlock()
		return OperationResult{Status: ResultAlreadyRunning, Message: "Plugin '" + id + "' is already running"}, nil
	}
	s.mu.Unlock()

	dir := s.registry.PluginDir(id)
	m, err := readManifest(dir)
	if err != nil || m == nil {
		return OperationResult{}, fmt.Errorf("%w: plugin %q", ErrNotFound, id)
	}
	if m.Start == "" {
		return OperationResult{}, fmt.Errorf("plugins: plugin %q has no start command", id)
	}

	env := os.Environ()
	for k, v := range m.Env {
		env = append(env, k+"="+v)
	}
	if m.Port != 0 {
		env = append(env, "PORT="+strconv.Itoa(m.Port))
	}

	cmd := exec.Command("sh", "-c", m.Start)
	cmd.Dir = dir
	cmd.Env = env
	setProcessGroup(cmd)

	logFile, err := os.Create(filepath.Join(dir, logFilename))
	if err != nil {
		return OperationResult{}, err
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return OperationResult{}, err
	}

	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		// Non-fatal: the in-memory handle still tracks the process.
	}

	s.mu.Lock()
	s.running[id] = &runningProcess{cmd: cmd, port: m.Port}
	s.mu.Unlock()

	msg := "Plugin '" + id + "' launched"
	if m.Port != 0 {
		msg += " on port " + strconv.Itoa(m.Port)
	}
	return OperationResult{Status: ResultOK, Message: msg, PID: cmd.Process.Pid, Port: m.Port}, nil
}

// IsRunning implements the three-step decision tree in spec §4.I:
// in-memory handle, then PID file, then port-uniqueness probe. Shared ports
// are never attributed to a plugin (Open Question decision, preserved
// exactly).
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.Lock()
	rp, ok := s.running[id]
	s.mu.Unlock()
	if ok && rp.alive() {
		return true
	}

	dir := s.registry.PluginDir(id)
	if pid, ok := readPIDFile(dir); ok && processAlive(pid) {
		return true
	}

	m, err := readManifest(dir)
	if err != nil || m == nil || m.Port == 0 {
		return false
	}
	if !portListening(m.Port) {
		return false
	}
	return s.portUniqueTo(id, m.Port)
}

// portUniqueTo reports whether no other installed plugin also declares
// port. Ambiguous ports are never attributed to either plugin.
func (s *Supervisor) portUniqueTo(id string, port int) bool {
	ports, err := s.registry.AllPorts()
	if err != nil {
		return false
	}
	for otherID, otherPort := range ports {
		if otherID != id && otherPort == port {
			return false
		}
	}
	return true
}

func readPIDFile(dir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, pidFilename))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func portListening(port int) bool {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// --- stop / remove --------------------------------------------------------

// Stop terminates a running plugin: stop_cmd best-effort, then the process
// group, escalating to a forced kill after gracefulWait. Idempotent — it
// never errors when the plugin was already stopped.
func (s *Supervisor) Stop(ctx context.Context, id string) (OperationResult, error) {
	dir := s.registry.PluginDir(id)

	ambiguous, err := s.isStopAmbiguous(id)
	if err != nil {
		return OperationResult{}, err
	}
	if ambiguous {
		return OperationResult{Status: ResultAmbiguous, Message: "Plugin '" + id + "' shares a port with another plugin; refusing to guess which process to kill"}, nil
	}

	s.mu.Lock()
	rp, ok := s.running[id]
	s.mu.Unlock()
	if !ok || !rp.alive() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		os.Remove(filepath.Join(dir, pidFilename))
		return OperationResult{Status: ResultOK, Message: "Plugin '" + id + "' was not running"}, nil
	}

	if m, err := readManifest(dir); err == nil && m != nil && m.Stop != "" {
		stopCtx, cancel := context.WithTimeout(ctx, stopScriptTimeout)
		cmd := exec.CommandContext(stopCtx, "sh", "-c", m.Stop)
		cmd.Dir = dir
		cmd.Run() // best-effort
		cancel()
	}

	pid := rp.cmd.Process.Pid
	signalGroup(pid, terminateSignal())

	done := make(chan struct{})
	go func() { rp.cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(gracefulWait):
		signalGroup(pid, killSignal())
		<-done
	}

	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	os.Remove(filepath.Join(dir, pidFilename))

	return OperationResult{Status: ResultOK, Message: "Plugin '" + id + "' stopped"}, nil
}

// isStopAmbiguous reports whether IsRunning's port-only fallback would have
// to guess: only relevant when there is no in-memory handle or PID file,
// i.e. the only available signal is a shared listening port.
func (s *Supervisor) isStopAmbiguous(id string) (bool, error) {
	s.mu.Lock()
	rp, ok := s.running[id]
	s.mu.Unlock()
	if ok && rp.alive() {
		return false, nil
	}
	dir := s.registry.PluginDir(id)
	if pid, ok := readPIDFile(dir); ok && processAlive(pid) {
		return false, nil
	}
	m, err := readManifest(dir)
	if err != nil || m == nil || m.Port == 0 || !portListening(m.Port) {
		return false, nil
	}
	return !s.portUniqueTo(id, m.Port), nil
}

// Remove deletes the plugin directory, stopping it first if running.
func (s *Supervisor) Remove(ctx context.Context, id string) (OperationResult, error) {
	if err := ValidatePluginID(id); err != nil {
		return OperationResult{}, err
	}
	dir := s.registry.PluginDir(id)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return OperationResult{}, fmt.Errorf("%w: plugin %q", ErrNotFound, id)
	}

	s.mu.Lock()
	rp, ok := s.running[id]
	s.mu.Unlock()
	if ok && rp.alive() {
		signalGroup(rp.cmd.Process.Pid, killSignal())
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}

	if err := os.RemoveAll(dir); err != nil {
		return OperationResult{}, err
	}
	return OperationResult{Status: ResultOK, Message: "Plugin '" + id + "' removed"}, nil
}

// --- chat history ----------------------------------------------------------

// GetChatHistory reads <plugin>/chat_history.json. Returns an empty slice,
// never an error, when the file doesn't exist yet.
func (s *Supervisor) GetChatHistory(id string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.registry.PluginDir(id), chatHistoryFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveChatHistory overwrites <plugin>/chat_history.json. No cross-plugin
// visibility: each plugin's history is isolated to its own directory.
func (s *Supervisor) SaveChatHistory(id string, history []json.RawMessage) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.registry.PluginDir(id), chatHistoryFilename), data, 0o644)
}

// --- HTTP surface: models / providers / health / proxy ---------------------

func (s *Supervisor) pluginBaseURL(id string) (string, error) {
	dir := s.registry.PluginDir(id)
	m, err := readManifest(dir)
	if err != nil || m == nil || m.Port == 0 {
		return "", fmt.Errorf("%w: plugin %q has no declared port", ErrNotFound, id)
	}
	return fmt.Sprintf("http://127.0.0.1:%d", m.Port), nil
}

// FetchModels GETs {host}:{port}/v1/models. Returns an empty slice, never
// an error, when the plugin isn't running (spec §4.I).
func (s *Supervisor) FetchModels(ctx context.Context, id string) ([]json.RawMessage, error) {
	return s.fetchJSONList(ctx, id, "/v1/models")
}

// FetchProviders GETs {host}:{port}/v1/providers.
func (s *Supervisor) FetchProviders(ctx context.Context, id string) ([]json.RawMessage, error) {
	return s.fetchJSONList(ctx, id, "/v1/providers")
}

func (s *Supervisor) fetchJSONList(ctx context.Context, id, path string) ([]json.RawMessage, error) {
	if !s.IsRunning(id) {
		return nil, nil
	}
	base, err := s.pluginBaseURL(id)
	if err != nil {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil
	}
	return out, nil
}

// ConnectionTestResult is what test_plugin_connection returns when the
// plugin is an Auto-Rotate host (spec §4.I).
type ConnectionTestResult struct {
	Healthy          bool   `json:"healthy"`
	SelectedBackend  string `json:"selected_backend,omitempty"`
	SelectedProvider string `json:"selected_provider,omitempty"`
	SelectedModel    string `json:"selected_model,omitempty"`
}

// TestConnection GETs {host}:{port}/health and, if present, issues one
// probe chat completion to report which backend/provider/model answered.
func (s *Supervisor) TestConnection(ctx context.Context, id string) (ConnectionTestResult, error) {
	base, err := s.pluginBaseURL(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return ConnectionTestResult{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ConnectionTestResult{Healthy: false}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ConnectionTestResult{Healthy: false}, nil
	}

	probe := map[string]any{
		"model":    "auto",
		"messages": []map[string]string{{"role": "user", "content": "ping"}},
	}
	body, _ := json.Marshal(probe)
	preq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ConnectionTestResult{Healthy: true}, nil
	}
	preq.Header.Set("Content-Type", "application/json")
	presp, err := s.httpClient.Do(preq)
	if err != nil {
		return ConnectionTestResult{Healthy: true}, nil
	}
	defer presp.Body.Close()

	var parsed struct {
		SelectedBackend  string `json:"selected_backend"`
		SelectedProvider string `json:"selected_provider"`
		SelectedModel    string `json:"selected_model"`
	}
	json.NewDecoder(presp.Body).Decode(&parsed)
	return ConnectionTestResult{
		Healthy: true, SelectedBackend: parsed.SelectedBackend,
		SelectedProvider: parsed.SelectedProvider, SelectedModel: parsed.SelectedModel,
	}, nil
}

// ChatCompletionProxy forwards body to {host}:{port}/v1/chat/completions and
// returns the raw response body. Errors bubble up with the plugin's status
// code (spec §4.I), rate-limited per plugin to protect a misbehaving child.
func (s *Supervisor) ChatCompletionProxy(ctx context.Context, id string, body []byte) (int, []byte, error) {
	if err := s.limiterFor(id).Wait(ctx); err != nil {
		return 0, nil, err
	}
	base, err := s.pluginBaseURL(id)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func (s *Supervisor) limiterFor(id string) *rate.Limiter {
	s.proxyLimitersMu.Lock()
	defer s.proxyLimitersMu.Unlock()
	l, ok := s.proxyLimiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(10), 20)
		s.proxyLimiters[id] = l
	}
	return l
}
