package slotpool

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/holmberd/go-slotpool/internal/subpool"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the default prefix of environment variables read by ConfigFromEnv.
const EnvPrefix = "SLOTPOOL"

type Config struct {
	SlotSize  int `envconfig:"SLOT_SIZE"  yaml:"slotSize"`  // Size of every slot, in bytes.
	SlotCount int `envconfig:"SLOT_COUNT" yaml:"slotCount"` // Slots per chunk, for the first and every grown chunk.

	// MaxSubpools caps the number of chunks the pool may grow to.
	// Allocate returns ErrFull once the cap is reached. A value of 0 means no cap.
	MaxSubpools int `envconfig:"MAX_SUBPOOLS" yaml:"maxSubpools"`

	// GuardFreeSlots stores a guard word in the first bytes of every free slot
	// and verifies it on allocation, detecting writes through released slots.
	// Requires SlotSize of at least 8 bytes.
	GuardFreeSlots bool `envconfig:"GUARD_FREE_SLOTS" yaml:"guardFreeSlots"`

	ZeroOnFree bool `envconfig:"ZERO_ON_FREE" yaml:"zeroOnFree"` // Zero slots when they are released.

	Allocator ChunkAllocator `ignored:"true" yaml:"-"` // Storage for chunks.
	Logger    *slog.Logger   `ignored:"true" yaml:"-"`
}

// DefaultConfig returns a configuration backed by the shared mmap allocator.
func DefaultConfig() Config {
	return Config{
		SlotSize:  64,
		SlotCount: 1024,
		Allocator: defaultChunkAllocator,
		Logger:    slog.Default(),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.SlotSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: slot size must be positive, got %d", ErrInvalidConfig, c.SlotSize))
	}
	if c.SlotCount <= 0 || uint64(c.SlotCount) > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("%w: slot count must be in [1, %d], got %d", ErrInvalidConfig, uint64(math.MaxUint32), c.SlotCount))
	}
	if c.MaxSubpools < 0 {
		errs = append(errs, fmt.Errorf("%w: max subpools must not be negative, got %d", ErrInvalidConfig, c.MaxSubpools))
	}
	if c.GuardFreeSlots && c.SlotSize < subpool.GuardSize {
		errs = append(errs, fmt.Errorf("%w: guarded slots must be at least %d bytes", ErrInvalidConfig, subpool.GuardSize))
	}
	if c.Allocator == nil {
		errs = append(errs, fmt.Errorf("%w: allocator is required", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// ConfigFromEnv returns the default configuration overridden by environment
// variables, e.g. SLOTPOOL_SLOT_SIZE for the prefix "SLOTPOOL".
func ConfigFromEnv(prefix string) (Config, error) {
	c := DefaultConfig()
	if err := envconfig.Process(prefix, &c); err != nil {
		return Config{}, fmt.Errorf("parsing environment variables: %w", err)
	}
	return c, nil
}

// LoadConfigFile reads a YAML configuration file and applies environment
// overrides on top of it. A missing file is not an error.
func LoadConfigFile(path, prefix string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}
	if err := envconfig.Process(prefix, &c); err != nil {
		return Config{}, fmt.Errorf("parsing environment variables: %w", err)
	}
	return c, nil
}
