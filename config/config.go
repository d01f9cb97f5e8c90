// Package config holds the tunable defaults every layer of this module
// otherwise hardcodes: output sample rate/channels, the DASH transmuxer's
// SIDX probe size, and the HTTP client's retry policy. Values are
// TOML-backed (github.com/pelletier/go-toml/v2) so an operator can
// override them without a recompile, following the same
// unmarshal-into-a-struct-with-defaults shape the teacher's own
// third-party dependency graph pulls in via go-toml/v2.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	toml "github.com/pelletier/go-toml/v2"
)

// Output holds the Factory's default target format (spec section 6:
// create_decoder's sr=44100, ch=2 defaults).
type Output struct {
	SampleRate float64 `toml:"sample_rate"`
	Channels   int     `toml:"channels"`
}

// Transmux holds the DASH transmuxer's tunables (spec section 4.D).
type Transmux struct {
	IndexRangeBytes    int `toml:"index_range_bytes"`
	MaxIndexRangeBytes int `toml:"max_index_range_bytes"`
	PrimingFrames      int `toml:"priming_frames"`
}

// HTTPRetryPolicy configures the shared retryablehttp.Client (spec
// section 7: "retry policy belongs to the HTTP client").
type HTTPRetryPolicy struct {
	RetryMax     int           `toml:"retry_max"`
	RetryWaitMin time.Duration `toml:"retry_wait_min"`
	RetryWaitMax time.Duration `toml:"retry_wait_max"`
}

// Config is the top-level TOML document.
type Config struct {
	Output   Output          `toml:"output"`
	Transmux Transmux        `toml:"transmux"`
	HTTP     HTTPRetryPolicy `toml:"http"`
}

// Default returns the built-in defaults used when no TOML document is
// supplied: 44.1kHz stereo output, a 500KB/1MB SIDX probe window, 1024
// priming frames, and a modest retry policy (matching retryablehttp's
// own DefaultClient shape, just with explicit values rather than
// package-level defaults so they can be logged and overridden).
func Default() Config {
	return Config{
		Output: Output{
			SampleRate: 44100,
			Channels:   2,
		},
		Transmux: Transmux{
			IndexRangeBytes:    500 * 1024,
			MaxIndexRangeBytes: 1024 * 1024,
			PrimingFrames:      1024,
		},
		HTTP: HTTPRetryPolicy{
			RetryMax:     4,
			RetryWaitMin: 1 * time.Second,
			RetryWaitMax: 30 * time.Second,
		},
	}
}

// Load reads a TOML document from path and merges it onto Default: any
// table or key the document omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // operator-specified config path
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// NewHTTPClient builds a retryablehttp.Client configured per p, with
// logging disabled (the teacher's convention throughout provider/http.go
// of routing recoverable hiccups through internal/logging instead of the
// client's own logger).
func (p HTTPRetryPolicy) NewHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = p.RetryMax
	client.RetryWaitMin = p.RetryWaitMin
	client.RetryWaitMax = p.RetryWaitMax
	client.Logger = nil

	return client
}
