package pprof

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"
)

// Collector records the configured profiles between Start and Stop.
type Collector struct {
	cfg *Config

	mu      sync.Mutex
	running bool
	started time.Time
	cpuFile *os.File
	files   []string
}

// NewCollector creates a collector. The config must be enabled.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("pprof is not enabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg}, nil
}

// Config returns the collector configuration.
func (c *Collector) Config() *Config { return c.cfg }

// OutputDir returns the directory profiles are written to.
func (c *Collector) OutputDir() string { return c.cfg.OutputDir }

// Start begins CPU profiling and enables block and mutex sampling when
// those profiles are requested.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("collector already running")
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create pprof directory: %w", err)
	}

	if c.cfg.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if c.cfg.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	if c.cfg.HasProfile(ProfileCPU) {
		// StartCPUProfile always asks for 100 Hz; an earlier rate wins.
		if c.cfg.CPURate > 0 && c.cfg.CPURate != 100 {
			runtime.SetCPUProfileRate(c.cfg.CPURate)
		}
		f, err := os.Create(c.path(ProfileCPU))
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		c.cpuFile = f
	}

	c.running = true
	c.started = time.Now()
	return nil
}

// Stop ends CPU profiling and writes the snapshot profiles. It returns
// the first error but still attempts every profile.
func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.cpuFile != nil {
		pprof.StopCPUProfile()
		keep(c.cpuFile.Close())
		c.files = append(c.files, c.cpuFile.Name())
		c.cpuFile = nil
	}

	for _, pt := range c.cfg.Profiles {
		if pt == ProfileCPU {
			continue
		}
		if pt == ProfileHeap {
			runtime.GC()
		}
		keep(c.writeSnapshot(pt))
	}

	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	return firstErr
}

// Files returns the profiles written so far.
func (c *Collector) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

// Elapsed returns how long the collector has been running.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func (c *Collector) writeSnapshot(pt ProfileType) error {
	p := pprof.Lookup(string(pt))
	if p == nil {
		return fmt.Errorf("unknown runtime profile %q", pt)
	}
	path := c.path(pt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile: %w", pt, err)
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s profile: %w", pt, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.files = append(c.files, path)
	return nil
}

func (c *Collector) path(pt ProfileType) string {
	name := string(pt) + ".pprof"
	if c.cfg.Prefix != "" {
		name = c.cfg.Prefix + "-" + name
	}
	return filepath.Join(c.cfg.OutputDir, name)
}
