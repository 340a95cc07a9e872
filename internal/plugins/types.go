// Package plugins implements the Plugin Registry (spec §4.H) and Plugin
// Supervisor (spec §4.I): on-disk manifest discovery and the full
// install/launch/health/stop/remove lifecycle for Pinokio-style plugin
// apps under a plugins directory.
package plugins

import "errors"

// Manifest is the parsed pocketpaw.json contract.
type Manifest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	Version     string            `json:"version"`
	Start       string            `json:"start"`
	Install     string            `json:"install"`
	Stop        string            `json:"stop"`
	Port        int               `json:"port"`
	Env         map[string]string `json:"env"`
	Requires    []string          `json:"requires"`
	OpenAPI     string            `json:"openapi"`
}

// Status is the derived runtime status of an installed plugin.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Info is what the Registry returns for one installed plugin: manifest plus
// derived fields, the Go shape of Python's list_plugins() dict.
type Info struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Version     string
	Port        int
	Status      Status
	Path        string
	StartCmd    string
	HasInstall  bool
	Requires    []string
	Env         map[string]string
	OpenAPI     string
}

// Detail adds the README excerpt get_plugin() includes that list_plugins()
// does not.
type Detail struct {
	Info
	Readme string
}

// GalleryEntry is one compile-time-registered curated builtin plugin
// (REDESIGN FLAG: an explicit table, never a directory/module scan). Exactly
// one of InlineFiles, GitURL, SourceDir may be set, matching the three
// install-source kinds named in spec §4.H.
type GalleryEntry struct {
	ID          string
	Name        string
	Description string

	InlineFiles map[string]string // path (relative to plugin dir) -> content
	GitURL      string
	SourceDir   string
}

// OperationResult is the uniform {status, message, ...} shape every
// lifecycle operation returns — these are plain values, never errors, for
// the "already running" / "ambiguous" / "not running" outcomes the spec
// marks as non-exceptional (spec §7 "never throws" list).
type OperationResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	PluginID string `json:"plugin_id,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Port    int    `json:"port,omitempty"`
}

const (
	ResultOK             = "ok"
	ResultAlreadyRunning = "already_running"
	ResultAmbiguous      = "ambiguous"
	ResultNotRunning     = "not_running"
)

// ErrInvalidSource reports a rejected install source string (contains `..`,
// `;`, `|`, `&`, or otherwise fails the shorthand/URL grammar).
var ErrInvalidSource = errors.New("plugins: invalid install source")

// ErrNoManifest reports a plugin directory or archive missing pocketpaw.json.
var ErrNoManifest = errors.New("plugins: missing pocketpaw.json manifest")

// ErrInvalidID reports a plugin_id containing path-traversal characters.
var ErrInvalidID = errors.New("plugins: invalid plugin id")

// ErrNotFound reports an operation against a plugin_id with no installed
// directory.
var ErrNotFound = errors.New("plugins: not found")
