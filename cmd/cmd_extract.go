// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/store"
)

var extractCmd = &cobra.Command{
	Use:   "extract [url...]",
	Short: "Prints the coordinates of each map link",
	Long: `
Prints one line per input: the input, longitude, latitude and the method that
found them, separated by tabs. Inputs are read from standard input, one per
line, when no arguments are given. With --parallel every method is reported.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newExtractor(ctx)
		if err != nil {
			return err
		}

		repo, err := openStore(viper.GetString("db-path"))
		if err != nil {
			return fmt.Errorf("opening results store: %w", err)
		}

		if repo != nil {
			defer repo.DB().Close()
		}

		inputs := args
		if len(inputs) == 0 {
			if inputs, err = readLines(cmd.InOrStdin()); err != nil {
				return err
			}
		}

		mode := extractMode()
		out := cmd.OutOrStdout()
		failed := 0

		var s *spinner.Spinner
		if isatty.IsTerminal(os.Stderr.Fd()) {
			s = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		}

		for _, input := range inputs {
			if s != nil {
				s.Suffix = " " + input
				s.Start()
			}

			res := e.Run(ctx, input, mode)

			if s != nil {
				s.Stop()
			}

			if _, ok := res.Best(); !ok {
				failed++
			}

			if mode == extract.ModeParallel {
				printOutcomes(out, res)
			} else {
				printResult(out, res)
			}

			if repo != nil {
				if err := repo.SaveExtraction(store.FromResult("cli", res)); err != nil {
					logger.Warn("recording extraction", "err", err)
				}
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d inputs without coordinates", failed, len(inputs))
		}

		return nil
	},
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)

	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, scanner.Err()
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func printResult(w io.Writer, res *extract.Result) {
	best, ok := res.Best()
	if !ok {
		fmt.Fprintf(w, "%s\t\t\t\n", res.Input)

		return
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		res.Input, formatCoordinate(best.Point.Lng), formatCoordinate(best.Point.Lat), best.Method)
}

func printOutcomes(w io.Writer, res *extract.Result) {
	a, b, c := strings.Repeat("─", 8), strings.Repeat("─", 20), strings.Repeat("─", 20)

	fmt.Fprintln(w, res.Input)
	fmt.Fprintf(w, "╭─%-8s─┬─%-20s─┬─%-20s─┬─%s╮\n", a, b, c, strings.Repeat("─", 10))
	fmt.Fprintf(w, "│ %-8s │ %-20s │ %-20s │ %-9s│\n", "Method", "Longitude", "Latitude", "State")
	fmt.Fprintf(w, "├─%-8s─┼─%-20s─┼─%-20s─┼─%s┤\n", a, b, c, strings.Repeat("─", 10))

	for _, o := range res.Outcomes {
		lng, lat := "", ""
		if o.OK {
			lng, lat = formatCoordinate(o.Point.Lng), formatCoordinate(o.Point.Lat)
		}

		fmt.Fprintf(w, "│ %-8s │ %-20s │ %-20s │ %-9s│\n", o.Method, lng, lat, outcomeState(o))
	}

	fmt.Fprintf(w, "╰─%-8s─┴─%-20s─┴─%-20s─┴─%s╯\n", a, b, c, strings.Repeat("─", 10))

	if best, ok := res.Best(); ok {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			res.Input, formatCoordinate(best.Point.Lng), formatCoordinate(best.Point.Lat), best.Method)
		fmt.Fprintf(w, "%d/%d methods succeeded, %d agree\n", res.Succeeded(), len(res.Outcomes), res.Agreement())
	}
}

func outcomeState(o extract.Outcome) string {
	switch {
	case o.OK:
		return "ok"
	case o.TimedOut:
		return "timeout"
	case !o.Attempted:
		return "skipped"
	default:
		return "failed"
	}
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
