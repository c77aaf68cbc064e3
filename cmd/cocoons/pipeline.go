package main

import (
	"fmt"
	"io"

	"github.com/odvcencio/cocoons/pkg/config"
	"github.com/odvcencio/cocoons/pkg/ir"
	"github.com/odvcencio/cocoons/pkg/manifest"
	"github.com/odvcencio/cocoons/pkg/obfuscate"
	"github.com/odvcencio/cocoons/pkg/substitute"
	"github.com/spf13/cobra"
)

// addPassFlags registers the flags that override the config's pass settings.
func addPassFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("enable-str", true, "obfuscate tagged strings")
	cmd.Flags().Bool("enable-sub", false, "rewrite integer additions")
	cmd.Flags().Uint64("seed", 0, "deterministic key seed (0 draws random keys)")
}

// applyPassFlags copies explicitly set flags over cfg.
func applyPassFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("enable-str") {
		v, err := flags.GetBool("enable-str")
		if err != nil {
			return err
		}
		cfg.Strings.Enabled = v
	}
	if flags.Changed("enable-sub") {
		v, err := flags.GetBool("enable-sub")
		if err != nil {
			return err
		}
		cfg.Substitution.Enabled = v
	}
	if flags.Changed("seed") {
		v, err := flags.GetUint64("seed")
		if err != nil {
			return err
		}
		cfg.Strings.Seed = v
	}
	return nil
}

// pipeline runs the enabled passes over units. One key source serves the
// whole build so a seed yields one reproducible key sequence.
type pipeline struct {
	cfg  *config.Config
	pass *obfuscate.Pass
}

func newPipeline(cfg *config.Config) *pipeline {
	opts := obfuscate.Options{
		TagPrefix:   cfg.Strings.TagPrefix,
		RecordField: cfg.Strings.RecordField,
		MaxDepth:    cfg.Strings.MaxDepth,
	}
	if cfg.Strings.Seed != 0 {
		opts.Keys = obfuscate.NewSeededKeys(cfg.Strings.Seed)
	}
	return &pipeline{cfg: cfg, pass: obfuscate.New(opts)}
}

func (p *pipeline) loadUnits(paths []string) ([]*ir.Unit, error) {
	units := make([]*ir.Unit, 0, len(paths))
	for _, path := range paths {
		u, err := manifest.Load(path)
		if err != nil {
			return nil, err
		}
		if ptr := p.cfg.Link.PointerSize; ptr != 0 && u.PointerSize != ptr {
			return nil, fmt.Errorf("unit %s: pointer size %d, config requires %d", u.Name, u.PointerSize, ptr)
		}
		units = append(units, u)
	}
	return units, nil
}

// transform runs the enabled passes over u and writes a summary line.
func (p *pipeline) transform(out io.Writer, u *ir.Unit) error {
	if p.cfg.Strings.Enabled {
		res, err := p.pass.Run(u)
		if err != nil {
			return err
		}
		if res.Changed() {
			fmt.Fprintf(out, "unit %s: obfuscated %d string(s)\n", u.Name, len(res.Records))
		} else {
			fmt.Fprintf(out, "unit %s: no changes\n", u.Name)
		}
	}
	if p.cfg.Substitution.Enabled {
		n := substitute.Unit(u)
		fmt.Fprintf(out, "unit %s: substituted additions in %d function(s)\n", u.Name, n)
	}
	return nil
}
