package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/tismet/internal/tslog"
	"github.com/nainya/tismet/pkg/engine"
)

func runDump(args []string) error {
	cf := newFlagSet("dump")
	out := cf.fs.String("out", "", "output file (default: stdout)")
	if err := cf.fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.engineConfig()
	if err != nil {
		return err
	}

	eng, err := engine.Open(cfg, prometheus.NewRegistry(), tslog.Global())
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer eng.Close()

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}

	return eng.WriteDump(w)
}

func runLoad(args []string) error {
	cf := newFlagSet("load")
	in := cf.fs.String("in", "", "input dump file (required)")
	if err := cf.fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}
	cfg, err := cf.engineConfig()
	if err != nil {
		return err
	}

	eng, err := engine.Open(cfg, prometheus.NewRegistry(), tslog.Global())
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer eng.Close()

	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("open %s: %w", *in, err)
	}
	defer f.Close()

	return eng.LoadDump(f)
}
