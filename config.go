package quadb

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/liliang-cn/quadb/internal/encoding"
	"github.com/liliang-cn/quadb/pkg/codec"
	"github.com/liliang-cn/quadb/pkg/geom"
	"github.com/liliang-cn/quadb/pkg/morton"
)

// Config represents configuration options for a spatial index
type Config struct {
	Path              string    `mapstructure:"path" toml:"path"`                                 // Database file path
	Dimensions        int       `mapstructure:"dimensions" toml:"dimensions"`                     // Number of axes D
	BitsPerAxis       int       `mapstructure:"bits_per_axis" toml:"bits_per_axis"`               // Curve width per axis, 0 = min(16, 64/D)
	Origin            []float64 `mapstructure:"origin" toml:"origin,omitempty"`                   // Position of grid cell 0, nil = zero vector
	Resolution        float64   `mapstructure:"resolution" toml:"resolution"`                     // Grid cell size
	MaxEntriesPerNode int       `mapstructure:"max_entries_per_node" toml:"max_entries_per_node"` // Leaf capacity, 0 = 2^D
	Table             string    `mapstructure:"table" toml:"table"`                               // Store table holding the points
	Codec             string    `mapstructure:"codec" toml:"codec"`                               // Entity codec name
	Compression       string    `mapstructure:"compression" toml:"compression"`                   // none, lz4 or zstd
	SkipScan          bool      `mapstructure:"skip_scan" toml:"skip_scan"`                       // Jump over out-of-window key runs
	Logger            Logger    `mapstructure:"-" toml:"-"`
}

// DefaultConfig returns a default configuration for a 3-dimensional index.
//
// The default grid starts at the zero vector with unit cells, so only positions in
// (-0.5, 2^bits-0.5) on every axis can be stored; anything else is ErrOutOfDomain. Set Origin
// and Resolution to cover negative coordinates or a finer grid.
func DefaultConfig() Config {
	return Config{
		Dimensions:  3,
		Resolution:  1,
		Table:       "points",
		Codec:       codec.Default.Name(),
		Compression: encoding.CompressionNone.String(),
		SkipScan:    true,
	}
}

// bits returns the effective per-axis curve width.
func (c Config) bits() int {
	if c.BitsPerAxis > 0 {
		return c.BitsPerAxis
	}
	return morton.DefaultBits(c.Dimensions)
}

// capacity returns the effective leaf capacity.
func (c Config) capacity() int {
	if c.MaxEntriesPerNode > 0 {
		return c.MaxEntriesPerNode
	}
	return 1 << c.Dimensions
}

// Validate checks the configuration without touching the database.
func (c Config) Validate() error {
	var problems []string
	if c.Dimensions < 1 || c.Dimensions > geom.MaxDims {
		problems = append(problems, fmt.Sprintf("dimensions must be in [1, %d], got %d", geom.MaxDims, c.Dimensions))
	} else if _, err := morton.New(c.Dimensions, c.bits()); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Origin != nil && len(c.Origin) != c.Dimensions {
		problems = append(problems, fmt.Sprintf("origin has %d axes, want %d", len(c.Origin), c.Dimensions))
	}
	for i, o := range c.Origin {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			problems = append(problems, fmt.Sprintf("origin axis %d is %v", i, o))
		}
	}
	if !(c.Resolution > 0) || math.IsInf(c.Resolution, 0) {
		problems = append(problems, fmt.Sprintf("resolution must be positive and finite, got %v", c.Resolution))
	}
	if c.MaxEntriesPerNode < 0 {
		problems = append(problems, "max_entries_per_node must be non-negative")
	}
	if c.Table == "" {
		problems = append(problems, "table cannot be empty")
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := encoding.ParseCompression(c.Compression); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.Mark(errors.Newf("%s", strings.Join(problems, "; ")), ErrInvalidConfig)
	}
	return nil
}

// WriteTOML renders the configuration as TOML.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// LoadConfig reads a TOML configuration file on top of DefaultConfig. Environment variables
// prefixed with QUADB_ (e.g. QUADB_DIMENSIONS, QUADB_SKIP_SCAN) override file values. An empty
// path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUADB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Mark(errors.Wrapf(err, "failed to read config file %s", path), ErrInvalidConfig)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Mark(errors.Wrap(err, "failed to unmarshal config"), ErrInvalidConfig)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("path", d.Path)
	v.SetDefault("dimensions", d.Dimensions)
	v.SetDefault("bits_per_axis", d.BitsPerAxis)
	v.SetDefault("resolution", d.Resolution)
	v.SetDefault("max_entries_per_node", d.MaxEntriesPerNode)
	v.SetDefault("table", d.Table)
	v.SetDefault("codec", d.Codec)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("skip_scan", d.SkipScan)
}
