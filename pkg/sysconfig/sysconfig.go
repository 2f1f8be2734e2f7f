package sysconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultValidityYears       = 2
	DefaultAcceleratedValidity = 10 * time.Minute
	DefaultIssuerName          = "OSI Certification Authority"
)

// ErrInvalid wraps every rejection from SystemConfig.Validate.
var ErrInvalid = errors.New("invalid system config")

// SystemConfig holds the platform-wide presentation and issuance switches.
// Values are immutable; change them through Holder.Apply.
type SystemConfig struct {
	// DemoMode marks newly issued certificates as demonstration artifacts.
	DemoMode bool
	// PresentationMode exposes product and organization names on public verification.
	PresentationMode bool
	// AcceleratedExpiry swaps the validity horizon for AcceleratedValidity.
	AcceleratedExpiry   bool
	AcceleratedValidity time.Duration
	ValidityYears       int
	IssuerName          string
	UpdatedAt           time.Time
}

// Defaults returns the configuration used before anything was persisted.
func Defaults() SystemConfig {
	return SystemConfig{
		AcceleratedValidity: DefaultAcceleratedValidity,
		ValidityYears:       DefaultValidityYears,
		IssuerName:          DefaultIssuerName,
	}
}

func (c SystemConfig) Validate() error {
	if c.ValidityYears < 1 || c.ValidityYears > 10 {
		return fmt.Errorf("%w: validity years must be between 1 and 10, got %d", ErrInvalid, c.ValidityYears)
	}
	if c.AcceleratedValidity < time.Second {
		return fmt.Errorf("%w: accelerated validity must be at least 1s, got %s", ErrInvalid, c.AcceleratedValidity)
	}
	if c.IssuerName == "" {
		return fmt.Errorf("%w: issuer name is required", ErrInvalid)
	}
	return nil
}

// ExpiryFor returns the expiry of a certificate issued at issuedAt.
func (c SystemConfig) ExpiryFor(issuedAt time.Time) time.Time {
	if c.AcceleratedExpiry {
		return issuedAt.Add(c.AcceleratedValidity)
	}
	return issuedAt.AddDate(c.ValidityYears, 0, 0)
}

type wireConfig struct {
	DemoMode            bool      `json:"demoMode"`
	PresentationMode    bool      `json:"presentationMode"`
	AcceleratedExpiry   bool      `json:"acceleratedExpiry"`
	AcceleratedValidity string    `json:"acceleratedValidity"`
	ValidityYears       int       `json:"validityYears"`
	IssuerName          string    `json:"issuerName"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (c SystemConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireConfig{
		DemoMode:            c.DemoMode,
		PresentationMode:    c.PresentationMode,
		AcceleratedExpiry:   c.AcceleratedExpiry,
		AcceleratedValidity: c.AcceleratedValidity.String(),
		ValidityYears:       c.ValidityYears,
		IssuerName:          c.IssuerName,
		UpdatedAt:           c.UpdatedAt,
	})
}

func (c *SystemConfig) UnmarshalJSON(data []byte) error {
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var validity time.Duration
	if w.AcceleratedValidity != "" {
		d, err := time.ParseDuration(w.AcceleratedValidity)
		if err != nil {
			return fmt.Errorf("acceleratedValidity: %w", err)
		}
		validity = d
	}
	*c = SystemConfig{
		DemoMode:            w.DemoMode,
		PresentationMode:    w.PresentationMode,
		AcceleratedExpiry:   w.AcceleratedExpiry,
		AcceleratedValidity: validity,
		ValidityYears:       w.ValidityYears,
		IssuerName:          w.IssuerName,
		UpdatedAt:           w.UpdatedAt,
	}
	return nil
}

// Store persists the single system configuration row.
type Store interface {
	LoadSystemConfig(ctx context.Context) (SystemConfig, bool, error)
	SaveSystemConfig(ctx context.Context, cfg SystemConfig) error
}

// Holder owns the current SystemConfig. Readers call Current; the value only
// changes at Reload and Apply.
type Holder struct {
	store    Store
	defaults SystemConfig
	current  atomic.Pointer[SystemConfig]
	mu       sync.Mutex
	now      func() time.Time
}

func NewHolder(store Store, defaults SystemConfig) *Holder {
	h := &Holder{store: store, defaults: defaults, now: time.Now}
	h.current.Store(&defaults)
	return h
}

func (h *Holder) Current() SystemConfig {
	return *h.current.Load()
}

// Reload replaces the current value with the persisted one, or the defaults
// when nothing was persisted yet.
func (h *Holder) Reload(ctx context.Context) (SystemConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, found, err := h.store.LoadSystemConfig(ctx)
	if err != nil {
		return h.Current(), err
	}
	if !found {
		cfg = h.defaults
	}
	if err := cfg.Validate(); err != nil {
		return h.Current(), fmt.Errorf("stored system config: %w", err)
	}
	h.current.Store(&cfg)
	return cfg, nil
}

// Apply derives a new value from the current one, persists it and makes it current.
func (h *Holder) Apply(ctx context.Context, change func(SystemConfig) SystemConfig) (SystemConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := change(h.Current())
	if err := next.Validate(); err != nil {
		return h.Current(), err
	}
	next.UpdatedAt = h.now().UTC()
	if err := h.store.SaveSystemConfig(ctx, next); err != nil {
		return h.Current(), err
	}
	h.current.Store(&next)
	return next, nil
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	DemoMode            *bool   `json:"demoMode,omitempty"`
	PresentationMode    *bool   `json:"presentationMode,omitempty"`
	AcceleratedExpiry   *bool   `json:"acceleratedExpiry,omitempty"`
	AcceleratedValidity *string `json:"acceleratedValidity,omitempty"`
	ValidityYears       *int    `json:"validityYears,omitempty"`
	IssuerName          *string `json:"issuerName,omitempty"`
}

// ApplyTo returns c with the patch applied. The result is not validated.
func (p Patch) ApplyTo(c SystemConfig) (SystemConfig, error) {
	if p.DemoMode != nil {
		c.DemoMode = *p.DemoMode
	}
	if p.PresentationMode != nil {
		c.PresentationMode = *p.PresentationMode
	}
	if p.AcceleratedExpiry != nil {
		c.AcceleratedExpiry = *p.AcceleratedExpiry
	}
	if p.AcceleratedValidity != nil {
		d, err := time.ParseDuration(*p.AcceleratedValidity)
		if err != nil {
			return c, fmt.Errorf("%w: acceleratedValidity: %v", ErrInvalid, err)
		}
		c.AcceleratedValidity = d
	}
	if p.ValidityYears != nil {
		c.ValidityYears = *p.ValidityYears
	}
	if p.IssuerName != nil {
		c.IssuerName = *p.IssuerName
	}
	return c, nil
}

// Set applies a single key=value change as typed on the command line. Keys
// use the JSON field names.
func (p *Patch) Set(key, value string) error {
	switch key {
	case "demoMode", "presentationMode", "acceleratedExpiry":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		switch key {
		case "demoMode":
			p.DemoMode = &b
		case "presentationMode":
			p.PresentationMode = &b
		default:
			p.AcceleratedExpiry = &b
		}
	case "acceleratedValidity":
		p.AcceleratedValidity = &value
	case "validityYears":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		p.ValidityYears = &n
	case "issuerName":
		p.IssuerName = &value
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
	}
	return nil
}
