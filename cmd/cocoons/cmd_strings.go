package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/odvcencio/cocoons/pkg/image"
	"github.com/odvcencio/cocoons/pkg/vm"
	"github.com/spf13/cobra"
)

var (
	colorSection = color.New(color.Faint).SprintFunc()
	colorAddr    = color.New(color.FgHiBlue).SprintfFunc()
	colorText    = color.New(color.Bold, color.FgHiGreen).SprintFunc()
)

func newStringsCmd() *cobra.Command {
	var minLen int
	var afterStartup bool

	cmd := &cobra.Command{
		Use:   "strings <image>",
		Short: "List printable byte runs in each section of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			if minLen < 1 {
				return fmt.Errorf("--min must be at least 1")
			}
			img, err := image.ReadFile(args[0])
			if err != nil {
				return err
			}

			contents := func(s *image.Section) ([]byte, error) { return s.Data, nil }
			if afterStartup {
				p, err := vm.Load(img)
				if err != nil {
					return err
				}
				defer p.Close()
				if err := p.Startup(); err != nil {
					return err
				}
				contents = func(s *image.Section) ([]byte, error) { return p.Mem.Read(s.Addr, len(s.Data)) }
			}

			out := cmd.OutOrStdout()
			for _, sec := range img.Sections {
				data, err := contents(sec)
				if err != nil {
					return err
				}
				for _, r := range printableRuns(data, minLen) {
					fmt.Fprintf(out, "%s %s %s\n",
						colorSection(sec.Name),
						colorAddr("%#x", sec.Addr+uint64(r.off)),
						colorText(string(data[r.off:r.off+r.n])))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minLen, "min", 4, "minimum run length")
	cmd.Flags().BoolVar(&afterStartup, "after-startup", false, "scan memory after running the startup routines")
	return cmd
}

type byteRun struct {
	off, n int
}

func printableRuns(data []byte, minLen int) []byteRun {
	var out []byteRun
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minLen {
			out = append(out, byteRun{off: start, n: end - start})
		}
		start = -1
	}
	for i, c := range data {
		if c >= 0x20 && c < 0x7f {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))
	return out
}
