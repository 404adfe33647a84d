// buildgraph analyses the dependency graph of a set of modules into a cache
// file (-a), then builds them stage by stage, leaves first (-b).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"fortio.org/cli"
	"fortio.org/log"

	"github.com/ldemailly/buildgraph/build"
	"github.com/ldemailly/buildgraph/graph"
	"github.com/ldemailly/buildgraph/loader"
)

func main() {
	os.Exit(Main())
}

func Main() int {
	cfg := defaultConfig()
	if err := loadEnv(cfg); err != nil {
		log.Warnf("Ignoring invalid environment settings: %v", err)
	}
	analyse := flag.String("a", "", "Analyse the `inputs` (';' separated directories, description or aggregator files, github:<owner>)")
	doBuild := flag.Bool("b", false, "Build the modules of the cache file, into buildPath when given")
	clearGitHubCache := flag.Bool("github-cache-clear", false, "Clear the GitHub response cache before analysing")
	bindFlags(flag.CommandLine, cfg)
	cli.ArgsHelp = "cacheFile [buildPath]\n\nexamples:\n" +
		"  buildgraph -a \"./src;./tools/go.work\" -v 3 cache.json\n" +
		"  buildgraph -b -stop-on-failure -configuration Release cache.json ./out"
	cli.MinArgs = 1
	cli.MaxArgs = 2
	cli.Main()

	// cli.ErrUsage exits, the returns below only run when tests replace
	// cli.ExitFunction.
	if (*analyse == "") == !*doBuild {
		cli.ErrUsage("exactly one of -a or -b is required")
		return 1
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		cli.ErrUsage("%v", err)
		return 1
	}
	args := flag.Args()
	cacheFile := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *analyse != "" {
		if len(args) > 1 {
			cli.ErrUsage("buildPath is only valid with -b")
			return 1
		}
		if *clearGitHubCache {
			if c, err := newResponseCache("", true); err == nil {
				if err := c.clear(); err != nil {
					log.Warnf("Error clearing cache: %v", err)
				}
			}
		}
		return runAnalyse(ctx, cfg, cacheFile, splitInputs(*analyse), os.Stdout)
	}
	buildPath := ""
	if len(args) > 1 {
		buildPath = args[1]
	}
	return runBuild(ctx, cfg, cacheFile, buildPath, os.Stdout)
}

func splitInputs(s string) []string {
	var inputs []string
	for _, in := range strings.Split(s, ";") {
		if in = strings.TrimSpace(in); in != "" {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// observers returns the progress and error observers selected by the
// verbosity bits.
func observers(cfg *Config, sinks *fileSinks) (graph.Multi, error) {
	var obs graph.Multi
	if cfg.Verbosity&VerboseConsole != 0 {
		obs = append(obs, newConsoleObserver(os.Stderr))
	}
	if cfg.Verbosity&VerboseFiles != 0 {
		f, err := sinks.create(errorsFileName)
		if err != nil {
			return nil, err
		}
		obs = append(obs, &errorFile{w: f})
	}
	return obs, nil
}

func runAnalyse(ctx context.Context, cfg *Config, cacheFile string, inputs []string, stdout io.Writer) int {
	sinks := newFileSinks(cacheFile)
	defer sinks.Close()
	obs, err := observers(cfg, sinks)
	if err != nil {
		log.Errf("Unable to create output files: %v", err)
		return 1
	}

	var sources []graph.Source
	for _, in := range inputs {
		if strings.HasPrefix(in, githubPrefix) {
			cache, err := newResponseCache("", cfg.GitHubCache)
			if err != nil {
				log.Errf("GitHub response cache: %v", err)
				return 1
			}
			sources = append(sources, NewGitHubSource(newGitHubClient(ctx, cfg.GitHubToken), cache))
			break
		}
	}

	reg := graph.NewRegistry()
	discoverErr := graph.NewBuilder(reg, loader.New(), obs, sources...).Discover(ctx, inputs)
	if discoverErr != nil {
		log.Warnf("Some inputs could not be analysed: %v", discoverErr)
	}
	if err := graph.Save(cacheFile, reg); err != nil {
		log.Errf("%v", err)
		return 1
	}

	var outputs []io.Writer
	if cfg.Verbosity&VerboseConsole != 0 {
		outputs = append(outputs, stdout)
	}
	if cfg.Verbosity&VerboseFiles != 0 {
		f, err := sinks.create(outputFileName)
		if err != nil {
			log.Errf("Unable to create output file: %v", err)
			return 1
		}
		outputs = append(outputs, f)
	}
	if len(outputs) > 0 {
		if err := writeReport(io.MultiWriter(outputs...), cfg.Report, reg, cfg.residualPolicy()); err != nil {
			log.Errf("Writing report: %v", err)
			return 1
		}
	}
	if discoverErr != nil {
		return 1
	}
	return 0
}

func runBuild(ctx context.Context, cfg *Config, cacheFile, buildPath string, stdout io.Writer) int {
	reg, err := graph.Load(cacheFile)
	if err != nil {
		log.Errf("%v", err)
		return 1
	}
	sinks := newFileSinks(cacheFile)
	defer sinks.Close()
	obs, err := observers(cfg, sinks)
	if err != nil {
		log.Errf("Unable to create output files: %v", err)
		return 1
	}
	bcfg := build.Config{Configuration: cfg.Configuration, OutputDir: buildPath}
	if cfg.Verbosity&VerboseFiles != 0 {
		f, err := sinks.create(buildLogFileName)
		if err != nil {
			log.Errf("Unable to create build log: %v", err)
			return 1
		}
		bcfg.Log = build.NewLockedWriter(f)
	}
	if buildPath != "" {
		if err := os.MkdirAll(buildPath, 0o755); err != nil {
			log.Errf("Unable to create build path: %v", err)
			return 1
		}
	}

	var action build.Action = build.GoAction{}
	if cfg.Command != "" {
		action = build.ShellAction{Command: cfg.Command}
	}
	s := build.NewScheduler(reg, action, obs, build.Options{
		Workers:       cfg.Workers,
		StopOnFailure: cfg.StopOnFailure,
		Residual:      cfg.residualPolicy(),
		Config:        bcfg,
	})
	if cfg.Metrics != "" {
		s.Metrics = build.NewMetrics()
	}
	res := s.BuildAll(ctx)
	if s.Metrics != nil {
		if err := s.Metrics.WriteTextfile(cfg.Metrics); err != nil {
			log.Errf("Writing metrics: %v", err)
		}
	}
	fmt.Fprintln(stdout, res)
	if res.Failed > 0 {
		return 1
	}
	return 0
}
