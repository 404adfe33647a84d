package main

import (
	"errors"
	"flag"
	"fmt"

	"fortio.org/struct2env"
	"github.com/go-playground/validator/v10"

	"github.com/ldemailly/buildgraph/build"
)

const envPrefix = "BUILDGRAPH_"

// Verbosity bits of -v.
const (
	VerboseConsole = 1 << iota
	VerboseFiles
)

// Config holds the settings shared by the analyse and build modes. Defaults
// can be overridden from BUILDGRAPH_* environment variables, then by flags.
type Config struct {
	Workers       int    `validate:"gte=0"`
	Configuration string `validate:"required"`
	StopOnFailure bool
	Verbosity     int    `validate:"gte=0,lte=3"`
	Residual      string `validate:"oneof=last exclude"`
	Report        string `validate:"oneof=depth tree dot levels"`
	Metrics       string
	Command       string // shell build command, `go build` when empty
	GitHubToken   string `env:"GITHUB_TOKEN"`
	GitHubCache   bool   `env:"GITHUB_CACHE"`
}

func defaultConfig() *Config {
	return &Config{
		Configuration: build.Debug,
		Verbosity:     VerboseConsole,
		Residual:      build.ResidualLast.String(),
		Report:        "depth",
		GitHubCache:   true,
	}
}

// loadEnv applies the environment overrides on cfg.
func loadEnv(cfg *Config) error {
	return errors.Join(struct2env.SetFromEnv(envPrefix, cfg)...)
}

// bindFlags registers the flags on fs, using the current values of cfg as
// defaults.
func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent builds within a stage, `n` = 0 means one per CPU")
	fs.StringVar(&cfg.Configuration, "configuration", cfg.Configuration, "Build `configuration` (Debug or Release)")
	fs.BoolVar(&cfg.StopOnFailure, "stop-on-failure", cfg.StopOnFailure, "Do not start further stages after a failed build")
	fs.IntVar(&cfg.Verbosity, "v", cfg.Verbosity, "Verbosity `bits`: 1 console progress, 2 output files next to the cache file")
	fs.StringVar(&cfg.Residual, "residual", cfg.Residual, "What to do with unresolved modules: last or exclude")
	fs.StringVar(&cfg.Report, "report", cfg.Report, "Analysis report: depth, tree, dot or levels")
	fs.StringVar(&cfg.Metrics, "metrics", cfg.Metrics, "Write build metrics in prometheus textfile format to `file`")
	fs.StringVar(&cfg.Command, "command", cfg.Command, "Shell `command` building a module, run in its directory (default go build)")
	fs.BoolVar(&cfg.GitHubCache, "github-cache", cfg.GitHubCache, "Cache GitHub API responses in the user cache directory")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) residualPolicy() build.ResidualPolicy {
	p, _ := build.ParseResidualPolicy(c.Residual) // validated
	return p
}
