package plugins

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	json5 "github.com/titanous/json5"
)

const manifestFilename = "pocketpaw.json"

// Registry scans a plugins directory for installed apps. It holds no
// runtime process state — that belongs to the Supervisor, which embeds a
// Registry to resolve manifests.
type Registry struct {
	dir string
}

// NewRegistry binds a Registry to a plugins directory, creating it if
// absent.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the bound plugins directory.
func (r *Registry) Dir() string { return r.dir }

// PluginDir returns the on-disk directory for one plugin id, without
// checking existence.
func (r *Registry) PluginDir(id string) string {
	return filepath.Join(r.dir, id)
}

// readManifest parses pocketpaw.json in dir. Returns (nil, nil) when the
// file is absent — that is "skip, not installed", not an error — and a
// the read or parse error when present but unparsable (List and AllPorts
// skip such a directory without logging it).
func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json5.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// readReadme returns up to 5000 bytes of the first README variant found, or
// "" if none exists.
func readReadme(dir string) string {
	for _, name := range []string{"README.md", "readme.md", "README.txt", "README"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			if len(data) > 5000 {
				data = data[:5000]
			}
			return string(data)
		}
	}
	return ""
}

func hasInstallScript(dir string, m *Manifest) bool {
	if m.Install != "" {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, "install.sh"))
	return err == nil
}

func toInfo(id, dir string, m *Manifest, running bool) Info {
	status := StatusStopped
	if running {
		status = StatusRunning
	}
	name := m.Name
	if name == "" {
		name = id
	}
	icon := m.Icon
	if icon == "" {
		icon = "package"
	}
	version := m.Version
	if version == "" {
		version = "0.0.0"
	}
	return Info{
		ID: id, Name: name, Description: m.Description, Icon: icon,
		Version: version, Port: m.Port, Status: status, Path: dir,
		StartCmd: m.Start, HasInstall: hasInstallScript(dir, m),
		Requires: m.Requires, Env: m.Env, OpenAPI: m.OpenAPI,
	}
}

// isRunning is supplied by the Supervisor (or, in Registry-only tests, a
// stub) so List/Get can report runtime status without the Registry itself
// tracking any process state.
type isRunningFunc func(id string) bool

// List scans the plugins directory, parsing each pocketpaw.json and
// skipping directories without a valid manifest. Entries are sorted by id
// for deterministic output, matching the Python original's sorted() scan.
func (r *Registry) List(isRunning isRunningFunc) ([]Info, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		dir := r.PluginDir(id)
		m, err := readManifest(dir)
		if err != nil || m == nil {
			continue
		}
		out = append(out, toInfo(id, dir, m, isRunning(id)))
	}
	return out, nil
}

// Get returns one plugin's manifest-derived detail, including its README
// excerpt. ok is false when the directory doesn't exist or has no valid
// manifest.
func (r *Registry) Get(id string, isRunning isRunningFunc) (Detail, bool) {
	dir := r.PluginDir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Detail{}, false
	}
	m, err := readManifest(dir)
	if err != nil || m == nil {
		return Detail{}, false
	}
	return Detail{Info: toInfo(id, dir, m, isRunning(id)), Readme: readReadme(dir)}, true
}

// AllPorts returns the manifest port declared by every installed plugin
// (0 excluded), used by the Supervisor's shared-port ambiguity check.
func (r *Registry) AllPorts() (map[string]int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	ports := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := r.PluginDir(e.Name())
		m, err := readManifest(dir)
		if err != nil || m == nil || m.Port == 0 {
			continue
		}
		ports[e.Name()] = m.Port
	}
	return ports, nil
}

// ValidateSource rejects install sources containing shell-metacharacters or
// path-traversal sequences, matching the Python original's sanitize check.
func ValidateSource(source string) error {
	if strings.Contains(source, "..") || strings.ContainsAny(source, ";|&") {
		return ErrInvalidSource
	}
	return nil
}

// ValidatePluginID rejects ids that could escape the plugins directory.
func ValidatePluginID(id string) error {
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") {
		return ErrInvalidID
	}
	return nil
}
