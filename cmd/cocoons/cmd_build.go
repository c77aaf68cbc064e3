package main

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/image"
	"github.com/odvcencio/cocoons/pkg/link"
	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var output string
	var noStrip bool

	cmd := &cobra.Command{
		Use:   "build <unit.yaml>...",
		Short: "Obfuscate units, link them and write an image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyPassFlags(cmd, cfg); err != nil {
				return err
			}
			if noStrip {
				cfg.Link.DeadStrip = false
			}

			p := newPipeline(cfg)
			units, err := p.loadUnits(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range units {
				if err := p.transform(out, u); err != nil {
					return err
				}
			}

			img, err := link.Link(units, link.Options{
				PointerSize: cfg.Link.PointerSize,
				BaseAddress: cfg.Link.BaseAddress,
				DeadStrip:   cfg.Link.DeadStrip,
			})
			if err != nil {
				return err
			}
			if err := image.WriteFile(output, img); err != nil {
				return err
			}

			fmt.Fprintf(out, "wrote %s: %d section(s), %d symbol(s), %d startup routine(s)\n",
				output, len(img.Sections), len(img.Symbols), len(img.Ctors))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "a.cimg", "image file to write")
	cmd.Flags().BoolVar(&noStrip, "no-dead-strip", false, "keep unreachable internal objects")
	addPassFlags(cmd)
	return cmd
}
