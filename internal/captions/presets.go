package captions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/logger"
)

// preset names
const (
	PresetSafe   = "safe"
	PresetNormal = "normal"
	PresetFast   = "fast"
)

// ErrUnknownPreset is returned for a preset name not in the set.
var ErrUnknownPreset = errors.New("unknown speed preset")

// Preset is a named pacing profile for caption edits.
type Preset struct {
	Name       string        `yaml:"-"`
	MinDelay   time.Duration `yaml:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
}

// Delay returns the per-item delay bounds.
func (p Preset) Delay() backup.DelayRange {
	return backup.DelayRange{Min: p.MinDelay, Max: p.MaxDelay}
}

// Validate checks the preset is usable.
func (p Preset) Validate() error {
	switch {
	case p.MinDelay < 0 || p.MaxDelay < p.MinDelay:
		return fmt.Errorf("preset %q: delay range %s-%s is invalid", p.Name, p.MinDelay, p.MaxDelay)
	case p.BatchSize <= 0:
		return fmt.Errorf("preset %q: batch_size must be positive", p.Name)
	case p.BatchPause < 0:
		return fmt.Errorf("preset %q: batch_pause must not be negative", p.Name)
	}
	return nil
}

func (p Preset) String() string {
	return fmt.Sprintf("%s (delay %s-%s, batch %d, pause %s)", p.Name, p.MinDelay, p.MaxDelay, p.BatchSize, p.BatchPause)
}

func builtinPresets() map[string]Preset {
	return map[string]Preset{
		PresetSafe:   {Name: PresetSafe, MinDelay: 3 * time.Second, MaxDelay: 6 * time.Second, BatchSize: 10, BatchPause: 60 * time.Second},
		PresetNormal: {Name: PresetNormal, MinDelay: 1500 * time.Millisecond, MaxDelay: 3 * time.Second, BatchSize: 20, BatchPause: 30 * time.Second},
		PresetFast:   {Name: PresetFast, MinDelay: 500 * time.Millisecond, MaxDelay: 1500 * time.Millisecond, BatchSize: 30, BatchPause: 15 * time.Second},
	}
}

// presetFile is the YAML layout of PRESETS_FILE.
type presetFile struct {
	Default string            `yaml:"default"`
	Presets map[string]Preset `yaml:"presets"`
}

// Presets is the set of available presets.
// thread-safe; the set may be swapped by Watch
type Presets struct {
	mu     sync.RWMutex
	byName map[string]Preset
	def    string
}

// DefaultPresets returns the built-in safe/normal/fast set.
func DefaultPresets() *Presets {
	return &Presets{byName: builtinPresets(), def: PresetNormal}
}

// LoadPresets reads a YAML file on top of the built-in set.
// An empty path returns the built-ins.
func LoadPresets(path string) (*Presets, error) {
	p := DefaultPresets()
	if path == "" {
		return p, nil
	}
	if err := p.load(path); err != nil {
		return nil, err
	}
	return p, nil
}

func parsePresets(data []byte) (map[string]Preset, string, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("parse presets: %w", err)
	}

	set := builtinPresets()
	for name, preset := range file.Presets {
		preset.Name = name
		if err := preset.Validate(); err != nil {
			return nil, "", err
		}
		set[name] = preset
	}

	def := PresetNormal
	if file.Default != "" {
		if _, ok := set[file.Default]; !ok {
			return nil, "", fmt.Errorf("%w: default %q", ErrUnknownPreset, file.Default)
		}
		def = file.Default
	}
	return set, def, nil
}

func (p *Presets) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets: %w", err)
	}
	set, def, err := parsePresets(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.byName, p.def = set, def
	p.mu.Unlock()
	return nil
}

// Get returns the named preset.
func (p *Presets) Get(name string) (Preset, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	preset, ok := p.byName[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return preset, nil
}

// Default returns the default preset.
func (p *Presets) Default() Preset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byName[p.def]
}

// All returns every preset, slowest first.
func (p *Presets) All() []Preset {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Preset, 0, len(p.byName))
	for _, preset := range p.byName {
		out = append(out, preset)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxDelay != out[j].MaxDelay {
			return out[i].MaxDelay > out[j].MaxDelay
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MostConservative returns the preset with the largest MaxDelay.
func (p *Presets) MostConservative() Preset {
	return p.All()[0]
}

// Watch reloads the file whenever it changes until ctx ends.
// A file that fails to parse leaves the current set in place.
func (p *Presets) Watch(ctx context.Context, path string, log *logger.Logger) error {
	dir := filepath.Dir(path)
	file := filepath.Join(dir, filepath.Base(path))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// debounce partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := p.load(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("captions: presets reload failed")
				return
			}
			log.Info().Str("path", path).Msg("captions: presets reloaded")
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == file && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("captions: presets watcher error")
		}
	}
}
