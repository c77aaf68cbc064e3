package main

import (
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <unit.yaml>...",
		Short: "Run the enabled passes and print each unit as text IR",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyPassFlags(cmd, cfg); err != nil {
				return err
			}

			p := newPipeline(cfg)
			units, err := p.loadUnits(args)
			if err != nil {
				return err
			}
			for _, u := range units {
				if err := p.transform(cmd.ErrOrStderr(), u); err != nil {
					return err
				}
				if err := u.Print(cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addPassFlags(cmd)
	return cmd
}
