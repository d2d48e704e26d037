package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MixyLabs/micdrop/pkg/micdrop"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	list       bool
	volume     float64
	configPath string
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging the audio graph)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.BoolVar(&list, "list", false, "print the audio streams and their ports, then exit")
	flag.Float64Var(&volume, "volume", -1, "playback volume, 1.0 is unchanged (overrides the config file)")
	flag.StringVar(&configPath, "config", "config.yaml", "path to the config file")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <audio file>\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
}

func main() {
	logger, err := micdrop.NewLogger(buildType, verbose)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	if !list && flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	d, err := micdrop.NewMicDrop(logger, configPath, verbose)
	if err != nil {
		named.Fatalw("Failed to create micdrop object", "error", err)
	}

	if err = d.Initialize(); err != nil {
		named.Fatalw("Failed to initialize micdrop", "error", err)
	}

	if volume >= 0 {
		named.Debugw("Volume overridden from the command line", "volume", volume)
		d.SetVolumeOverride(float32(volume))
	}

	if list {
		err = d.List(os.Stdout)
	} else {
		err = d.Play(flag.Arg(0))
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = logger.Sync()

	if err != nil {
		named.Fatalw("Failed", "error", err)
	}
}
