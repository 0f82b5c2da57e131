package install

import (
	"regexp"
	"strings"
	"sync"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// Variant is the kind of host being installed.
type Variant int

const (
	// VariantClient hosts share the default network and need the connectivity probe.
	VariantClient Variant = iota
	// VariantServer hosts get an isolated VM switch with a static address.
	VariantServer
)

func (v Variant) String() string {
	if v == VariantServer {
		return "server"
	}
	return "client"
}

// Flag marks a completed stage that has an effect rollback must consider.
type Flag string

const (
	FlagSwitchCreated    Flag = "switch_created"
	FlagRuntimeInstalled Flag = "runtime_installed"
	FlagDNSConfigured    Flag = "dns_configured"
)

// Network parameters of the managed environment.
type Network struct {
	SwitchName   string
	VMAddress    string
	Gateway      string
	PrefixLength string
}

// DefaultNetwork is used for any value the switch script did not report.
func DefaultNetwork() Network {
	return Network{
		SwitchName:   "IoTEdgeVSwitch",
		VMAddress:    "192.168.3.5",
		Gateway:      "192.168.3.1",
		PrefixLength: "24",
	}
}

// Context is built once per run and passed to every stage.
type Context struct {
	Variant        Variant
	DeviceName     string
	RegistrationID string
	ScopeID        string
	DerivedKey     string
	Network        Network

	PackagePath string
	Address     string

	state *State
}

// mark sets a flag as soon as the host has been changed, ahead of stage completion.
func (ic *Context) mark(f Flag) {
	if ic.state != nil {
		ic.state.Set(f)
	}
}

// State tracks a single orchestration run. It lives only in memory.
type State struct {
	mu             sync.Mutex
	registrationID string
	flags          map[Flag]bool
	stageIndex     int
	stage          string
}

// NewState creates the state for one run.
func NewState(registrationID string) *State {
	return &State{registrationID: registrationID, flags: make(map[Flag]bool), stageIndex: -1}
}

func (s *State) RegistrationID() string { return s.registrationID }

// Set marks a flag complete. Flags never go back to false within a run.
func (s *State) Set(f Flag) {
	if f == "" {
		return
	}
	s.mu.Lock()
	s.flags[f] = true
	s.mu.Unlock()
}

func (s *State) Completed(f Flag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[f]
}

// Flags returns a copy of the completion flags.
func (s *State) Flags() map[Flag]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Flag]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

func (s *State) enter(index int, name string) {
	s.mu.Lock()
	s.stageIndex = index
	s.stage = name
	s.mu.Unlock()
}

// Stage returns the index and name of the current stage (-1 before the first).
func (s *State) Stage() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageIndex, s.stage
}

var invalidRegistrationChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// RegistrationID derives the registration id from a device name by dropping
// every character outside [A-Za-z0-9_-].
func RegistrationID(deviceName string) (string, error) {
	if strings.TrimSpace(deviceName) == "" {
		return "", errors.Precondition("device-name", errors.New("device name is empty"))
	}
	id := invalidRegistrationChars.ReplaceAllString(deviceName, "")
	if id == "" {
		return "", errors.Precondition("device-name", errors.New("device name has no usable characters"))
	}
	return id, nil
}
