// Package manifest handles intcode.toml circuit configuration.
package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"

	"github.com/chazu/intcode/circuit"
	"github.com/chazu/intcode/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "intcode.toml"

// ErrInvalid reports a manifest that does not match the schema.
var ErrInvalid = errors.New("manifest: invalid")

// Run modes.
const (
	ModeRun      = "run"
	ModeAmplify  = "amplify"
	ModeFeedback = "feedback"
	ModeNetwork  = "network"
)

//go:embed schema.cue
var schemaSource string

// Manifest represents an intcode.toml file.
type Manifest struct {
	Program Program       `toml:"program" json:"program"`
	Run     RunConfig     `toml:"run" json:"run"`
	Network NetworkConfig `toml:"network" json:"network"`
	Log     LogConfig     `toml:"log" json:"log"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Program names the Intcode program, either as a file relative to the
// manifest or inline.
type Program struct {
	Path   string `toml:"path" json:"path,omitempty"`
	Source string `toml:"source" json:"source,omitempty"`
}

// RunConfig selects what to do with the program.
type RunConfig struct {
	Mode        string  `toml:"mode" json:"mode,omitempty"`
	Scheduler   string  `toml:"scheduler" json:"scheduler,omitempty"`
	Inputs      []int64 `toml:"inputs" json:"inputs,omitempty"`
	Phases      []int64 `toml:"phases" json:"phases,omitempty"`
	Signal      int64   `toml:"signal" json:"signal,omitempty"`
	MemoryLimit int     `toml:"memory-limit" json:"memory-limit,omitempty"`
}

// NetworkConfig configures network mode.
type NetworkConfig struct {
	Size          int    `toml:"size" json:"size,omitempty"`
	Monitor       int    `toml:"monitor" json:"monitor,omitempty"`
	WakeAddress   int    `toml:"wake-address" json:"wake-address,omitempty"`
	IdleThreshold int    `toml:"idle-threshold" json:"idle-threshold,omitempty"`
	PollInterval  string `toml:"poll-interval" json:"poll-interval,omitempty"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity,omitempty"`
	File      string `toml:"file" json:"file,omitempty"`
}

// Load parses the intcode.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses, validates and fills in defaults for a manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find an intcode.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Run.Mode == "" {
		m.Run.Mode = ModeRun
	}
	if m.Run.Scheduler == "" {
		m.Run.Scheduler = circuit.Threads.String()
	}
	def := circuit.DefaultNetworkConfig()
	if m.Network.Size == 0 {
		m.Network.Size = def.Size
	}
	// Address 0 is always a node, so an unset monitor means the default.
	if m.Network.Monitor == 0 {
		m.Network.Monitor = def.Monitor
	}
	if m.Network.IdleThreshold == 0 {
		m.Network.IdleThreshold = def.IdleThreshold
	}
	if m.Network.PollInterval == "" {
		m.Network.PollInterval = def.PollInterval.String()
	}
}

// cue.Context is not safe for concurrent use.
var (
	cueMu     sync.Mutex
	cueCtx    *cue.Context
	schema    cue.Value
	schemaErr error
)

func circuitSchema() (cue.Value, error) {
	if cueCtx == nil {
		cueCtx = cuecontext.New()
		v := cueCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = err
		} else {
			schema = v.LookupPath(cue.ParsePath("#Circuit"))
			schemaErr = schema.Err()
		}
	}
	return schema, schemaErr
}

// Validate checks the manifest against the embedded CUE schema and the
// cross-field rules the schema cannot express.
func (m *Manifest) Validate() error {
	cueMu.Lock()
	defer cueMu.Unlock()

	s, err := circuitSchema()
	if err != nil {
		return fmt.Errorf("manifest: schema: %w", err)
	}
	v := cueCtx.Encode(m)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	if err := s.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	switch {
	case m.Program.Path == "" && m.Program.Source == "":
		return fmt.Errorf("%w: program needs a path or a source", ErrInvalid)
	case m.Program.Path != "" && m.Program.Source != "":
		return fmt.Errorf("%w: program has both a path and a source", ErrInvalid)
	}
	switch m.Run.Mode {
	case ModeAmplify, ModeFeedback:
		if len(m.Run.Phases) == 0 {
			return fmt.Errorf("%w: %s mode needs phases", ErrInvalid, m.Run.Mode)
		}
	}
	return nil
}

// LoadProgram reads and parses the configured program.
func (m *Manifest) LoadProgram() (*vm.Memory, error) {
	text := m.Program.Source
	if m.Program.Path != "" {
		path := m.Program.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.Dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read program %s: %w", path, err)
		}
		text = string(data)
	}
	return vm.ParseMemory(text)
}

// Scheduler returns the configured circuit scheduler.
func (m *Manifest) Scheduler() (circuit.Scheduler, error) {
	return circuit.ParseScheduler(m.Run.Scheduler)
}

// Inputs returns the run inputs as words.
func (m *Manifest) Inputs() []vm.Word { return Words(m.Run.Inputs) }

// Phases returns the circuit phases as words.
func (m *Manifest) Phases() []vm.Word { return Words(m.Run.Phases) }

// NetworkConfig converts the [network] table.
func (m *Manifest) NetworkConfig() (circuit.NetworkConfig, error) {
	interval, err := time.ParseDuration(m.Network.PollInterval)
	if err != nil {
		return circuit.NetworkConfig{}, fmt.Errorf("%w: poll-interval: %v", ErrInvalid, err)
	}
	return circuit.NetworkConfig{
		Size:          m.Network.Size,
		Monitor:       m.Network.Monitor,
		WakeAddress:   m.Network.WakeAddress,
		IdleThreshold: m.Network.IdleThreshold,
		PollInterval:  interval,
		MemoryLimit:   m.Run.MemoryLimit,
	}, nil
}

// Words converts integers to machine words.
func Words(xs []int64) []vm.Word {
	ws := make([]vm.Word, len(xs))
	for i, x := range xs {
		ws[i] = vm.Word(x)
	}
	return ws
}
