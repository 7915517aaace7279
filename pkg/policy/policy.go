// Package policy loads the scoring and lifecycle policy rubric. The rubric
// is a YAML file with full defaults: a missing file or missing field falls
// back to the documented default, so the daemon always starts with a
// complete policy.
package policy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. The confidence floor and retry ceiling are deliberate policy
// choices: err toward not closing prematurely, and never retry forever.
const (
	DefaultConfidenceFloor     = 80
	DefaultRetryCeiling        = 3
	DefaultWorkers             = 4
	DefaultContextWindow       = 6 // recent messages sent to the classifier
	DefaultBackoffBase         = 30 * time.Second
	DefaultEvalDeadline        = 5 * time.Minute
	DefaultSupervisorInterval  = 30 * time.Second
	DefaultReconcileInterval   = 10 * time.Minute
	DefaultInactivityTimeout   = 12 * time.Hour
	DefaultSLAWindow           = 24 * time.Hour
	DefaultLockEvictionHorizon = 24 * time.Hour
)

// Duration wraps time.Duration so the rubric can say "5m" or "12h".
type Duration time.Duration

// UnmarshalYAML parses a duration string like "30s" or "10m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Policy holds every tunable lifecycle and scheduling knob.
type Policy struct {
	// ConfidenceFloor is the minimum classifier confidence (0..100) for a
	// close/reopen verdict to be acted on. Below the floor the
	// conversation is left unchanged.
	ConfidenceFloor int `yaml:"confidence_floor"`

	// RetryCeiling is the number of evaluation retries before a task is
	// recorded as a permanent failure.
	RetryCeiling int `yaml:"retry_ceiling"`

	// Workers is the evaluation worker pool size.
	Workers int `yaml:"workers"`

	// ContextWindow is how many recent messages are handed to the
	// classifier for close/reopen verdicts.
	ContextWindow int `yaml:"context_window"`

	// BackoffBase is the base of the exponential retry backoff
	// (base * 2^retryCount).
	BackoffBase Duration `yaml:"backoff_base"`

	// EvalDeadline is the wall-clock budget for one in-flight evaluation
	// before the supervisor reclaims it.
	EvalDeadline Duration `yaml:"eval_deadline"`

	// SupervisorInterval is how often the timeout supervisor scans the
	// in-flight table.
	SupervisorInterval Duration `yaml:"supervisor_interval"`

	// ReconcileInterval is the cadence of the slow safety sweeps.
	ReconcileInterval Duration `yaml:"reconcile_interval"`

	// InactivityTimeout closes a conversation with no new messages.
	InactivityTimeout Duration `yaml:"inactivity_timeout"`

	// SLAWindow is the promised deadline attached to a detected request.
	SLAWindow Duration `yaml:"sla_window"`

	// LockEvictionHorizon is how long an unused conversation lock may
	// linger before the lock table evicts it.
	LockEvictionHorizon Duration `yaml:"lock_eviction_horizon"`
}

// Default returns a Policy populated with every default value.
func Default() Policy {
	return Policy{
		ConfidenceFloor:     DefaultConfidenceFloor,
		RetryCeiling:        DefaultRetryCeiling,
		Workers:             DefaultWorkers,
		ContextWindow:       DefaultContextWindow,
		BackoffBase:         Duration(DefaultBackoffBase),
		EvalDeadline:        Duration(DefaultEvalDeadline),
		SupervisorInterval:  Duration(DefaultSupervisorInterval),
		ReconcileInterval:   Duration(DefaultReconcileInterval),
		InactivityTimeout:   Duration(DefaultInactivityTimeout),
		SLAWindow:           Duration(DefaultSLAWindow),
		LockEvictionHorizon: Duration(DefaultLockEvictionHorizon),
	}
}

// Load reads the rubric at path. A missing file returns Default() without
// error; a present but malformed file is an error. Zero-valued fields are
// filled in from defaults so partial rubrics stay valid.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}

	p := Policy{}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	p.fillDefaults()
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Write renders the policy as YAML at path (used by `parley init`).
func Write(path string, p Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write policy %s: %w", path, err)
	}
	return nil
}

func (p *Policy) fillDefaults() {
	def := Default()
	if p.ConfidenceFloor == 0 {
		p.ConfidenceFloor = def.ConfidenceFloor
	}
	if p.RetryCeiling == 0 {
		p.RetryCeiling = def.RetryCeiling
	}
	if p.Workers == 0 {
		p.Workers = def.Workers
	}
	if p.ContextWindow == 0 {
		p.ContextWindow = def.ContextWindow
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = def.BackoffBase
	}
	if p.EvalDeadline == 0 {
		p.EvalDeadline = def.EvalDeadline
	}
	if p.SupervisorInterval == 0 {
		p.SupervisorInterval = def.SupervisorInterval
	}
	if p.ReconcileInterval == 0 {
		p.ReconcileInterval = def.ReconcileInterval
	}
	if p.InactivityTimeout == 0 {
		p.InactivityTimeout = def.InactivityTimeout
	}
	if p.SLAWindow == 0 {
		p.SLAWindow = def.SLAWindow
	}
	if p.LockEvictionHorizon == 0 {
		p.LockEvictionHorizon = def.LockEvictionHorizon
	}
}

func (p Policy) validate() error {
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 100 {
		return fmt.Errorf("confidence_floor must be 0..100, got %d", p.ConfidenceFloor)
	}
	if p.RetryCeiling < 0 {
		return fmt.Errorf("retry_ceiling must be >= 0, got %d", p.RetryCeiling)
	}
	if p.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", p.Workers)
	}
	return nil
}
