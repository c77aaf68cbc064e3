package main

import (
	"fmt"

	"github.com/odvcencio/cocoons/pkg/image"
	"github.com/odvcencio/cocoons/pkg/obfuscate"
	"github.com/odvcencio/cocoons/pkg/vm"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var symbols []string
	var startups int
	var maxSteps int

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load an image, run its startup routines and print strings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			img, err := image.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := vm.Load(img)
			if err != nil {
				return err
			}
			defer p.Close()
			if maxSteps > 0 {
				p.SetMaxSteps(maxSteps)
			}

			for i := 0; i < startups; i++ {
				if err := p.Startup(); err != nil {
					return err
				}
			}

			names := symbols
			if len(names) == 0 {
				for _, s := range img.SymbolsIn(obfuscate.StringsSection) {
					names = append(names, s.Name)
				}
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				s, err := p.CString(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s = %q\n", name, s)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&symbols, "symbol", nil, "symbol to print (repeatable; default: every obfuscated string)")
	cmd.Flags().IntVar(&startups, "startup", 1, "number of times to run the startup routines")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "per-call instruction budget (0: default)")
	return cmd
}
