// Package featureflags provides runtime toggles for lifecycle behavior.
package featureflags

import (
	"strings"
	"sync"
)

// Known flag names.
const (
	// PublishRetries gates rescheduling of transient publish failures.
	PublishRetries = "publish_retries"
	// AutoGenerate gates the periodic generation sweep.
	AutoGenerate = "auto_generate"
	// OutcomeNotifications gates publish outcome notices to the channel.
	OutcomeNotifications = "outcome_notifications"
)

var defaults = map[string]bool{
	PublishRetries:       true,
	AutoGenerate:         true,
	OutcomeNotifications: true,
}

// Manager holds the flag states. Safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewManager builds a manager from defaults plus a comma-separated override
// spec of the form "publish_retries=off,auto_generate=on".
func NewManager(spec string) *Manager {
	flags := make(map[string]bool, len(defaults))
	for name, on := range defaults {
		flags[name] = on
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !found {
			flags[name] = true
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "on", "true", "1":
			flags[name] = true
		case "off", "false", "0":
			flags[name] = false
		}
	}

	return &Manager{flags: flags}
}

// Enabled reports whether the named flag is on. Unknown flags are off.
func (m *Manager) Enabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[name]
}

// Set overrides a flag at runtime.
func (m *Manager) Set(name string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = on
}

// All returns a snapshot of every flag.
func (m *Manager) All() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.flags))
	for name, on := range m.flags {
		out[name] = on
	}
	return out
}
