// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyOptions struct {
	source string
	limit  int
	offset int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists recorded extractions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := viper.GetString("db-path")
		if path == "" {
			return errors.New("--db-path is required")
		}

		repo, err := openStore(path)
		if err != nil {
			return fmt.Errorf("opening results store: %w", err)
		}
		defer repo.DB().Close()

		extractions, err := repo.ListExtractions(historyOptions.source, historyOptions.limit, historyOptions.offset)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		a, b, c := strings.Repeat("─", 6), strings.Repeat("─", 19), strings.Repeat("─", 44)

		fmt.Fprintf(out, "╭─%-6s─┬─%-19s─┬─%-8s─┬─%-8s─┬─%-44s╮\n", a, b, strings.Repeat("─", 8), strings.Repeat("─", 8), c)
		fmt.Fprintf(out, "│ %6s │ %-19s │ %-8s │ %-8s │ %-44s│\n", "Id", "Date", "Status", "Method", "Point")
		fmt.Fprintf(out, "├─%-6s─┼─%-19s─┼─%-8s─┼─%-8s─┼─%-44s┤\n", a, b, strings.Repeat("─", 8), strings.Repeat("─", 8), c)

		for _, e := range extractions {
			point := ""
			if e.Point != nil {
				point = e.Point.String()
			}

			fmt.Fprintf(out, "│ %6d │ %-19s │ %-8s │ %-8s │ %-44s│\n",
				e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Status, e.Method, point)
		}

		fmt.Fprintf(out, "╰─%-6s─┴─%-19s─┴─%-8s─┴─%-8s─┴─%-44s╯\n", a, b, strings.Repeat("─", 8), strings.Repeat("─", 8), c)

		byStatus, err := repo.CountByStatus()
		if err != nil {
			return err
		}

		byMethod, err := repo.CountByMethod()
		if err != nil {
			return err
		}

		for _, counts := range []map[string]int{byStatus, byMethod} {
			parts := make([]string, 0, len(counts))
			for _, k := range slices.Sorted(maps.Keys(counts)) {
				parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
			}

			fmt.Fprintln(out, strings.Join(parts, " "))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyOptions.source, "source", "", "only extractions from this workbook (or \"cli\", \"api\")")
	historyCmd.Flags().IntVar(&historyOptions.limit, "limit", 20, "rows to list")
	historyCmd.Flags().IntVar(&historyOptions.offset, "offset", 0, "rows to skip")
}
