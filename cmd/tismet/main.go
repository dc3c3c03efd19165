// Tismet storage-engine CLI: dump, load, walinfo, serve-metrics.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nainya/tismet/pkg/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "dump":
		err = runDump(os.Args[2:])
	case "load":
		err = runLoad(os.Args[2:])
	case "walinfo":
		err = runWALInfo(os.Args[2:])
	case "serve-metrics":
		err = runServeMetrics(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "tismet: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tismet: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Tismet storage-engine CLI

Usage:
  tismet dump          [-config FILE | -data PATH -wal PATH] [-out FILE]
  tismet load          [-config FILE | -data PATH -wal PATH] -in FILE
  tismet walinfo       -wal PATH
  tismet serve-metrics [-config FILE | -data PATH -wal PATH] -addr :9090`)
}

// cliFlags is the common flag set every subcommand but walinfo shares:
// either a YAML config file (engine.Config's own yaml tags, per
// SPEC_FULL.md §A's config-file loader) or plain -data/-wal paths.
type cliFlags struct {
	fs         *flag.FlagSet
	configPath *string
	dataPath   *string
	walPath    *string
}

func newFlagSet(name string) *cliFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &cliFlags{
		fs:         fs,
		configPath: fs.String("config", "", "YAML config file (overrides -data/-wal)"),
		dataPath:   fs.String("data", "tismet.tsm", "data file path"),
		walPath:    fs.String("wal", "tismet.wal", "WAL file path"),
	}
}

// engineConfig resolves the final engine.Config: a YAML file if
// -config was given, otherwise engine.DefaultConfig built from
// -data/-wal.
func (c *cliFlags) engineConfig() (engine.Config, error) {
	if *c.configPath == "" {
		return engine.DefaultConfig(*c.dataPath, *c.walPath), nil
	}
	b, err := os.ReadFile(*c.configPath)
	if err != nil {
		return engine.Config{}, fmt.Errorf("read config %s: %w", *c.configPath, err)
	}
	var cfg engine.Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return engine.Config{}, fmt.Errorf("parse config %s: %w", *c.configPath, err)
	}
	return cfg, nil
}
