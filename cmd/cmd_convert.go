// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/sheet"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/store"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/textutils"
)

var convertCmd = &cobra.Command{
	Use:   "convert <input.xlsx> <output.xlsx>",
	Short: "Fills the coordinates of every map link of a workbook",
	Long: `
Reads the first sheet of the input workbook, extracts the coordinates of the
map link column and writes them to the longitude and latitude columns, adding
them when missing. Rows that failed or had no link are also written to
<output>_failed.xlsx and <output>_skipped.xlsx.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		input, output := args[0], args[1]

		e, err := newExtractor(ctx)
		if err != nil {
			return err
		}

		book, err := sheet.Open(input)
		if err != nil {
			return err
		}
		defer book.Close()

		opts := sheet.Options{
			Mode:          extractMode(),
			Retry:         retryPolicy(),
			Concurrency:   viper.GetInt("concurrency"),
			ReportMethods: viper.GetBool("report-methods"),
			Required:      viper.GetStringSlice("require-columns"),
			Logger:        logger,
		}

		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar := progressbar.NewOptions(book.NumRows(),
				progressbar.OptionSetDescription("Extracting "+filepath.Base(input)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			opts.Progress = func(_, _ int) { _ = bar.Add(1) }

			defer bar.Finish()
		}

		summary, err := sheet.NewProcessor(e, opts).Process(ctx, book)
		if err != nil {
			return fmt.Errorf("processing %s: %w", input, err)
		}

		if err := book.SaveAs(output); err != nil {
			return err
		}

		splits, err := book.SaveSplits(output, summary)
		if err != nil {
			return err
		}

		repo, err := openStore(viper.GetString("db-path"))
		if err != nil {
			return fmt.Errorf("opening results store: %w", err)
		}

		if repo != nil {
			defer repo.DB().Close()

			if err := repo.BulkInsert(store.FromRows(filepath.Base(input), summary.Rows)); err != nil {
				return fmt.Errorf("recording results: %w", err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"%s rows: %s successful, %s failed, %s skipped in %s\n",
			textutils.FormatInt(int64(summary.Total)),
			textutils.FormatInt(int64(summary.Successful)),
			textutils.FormatInt(int64(summary.Failed)),
			textutils.FormatInt(int64(summary.Skipped)),
			summary.Elapsed.Round(time.Millisecond))
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", output)

		for _, path := range splits {
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
}
