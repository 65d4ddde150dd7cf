// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	logger  = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
)

func init() {
	log.SetDefault(logger)
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.StandardLog().Writer())
}

var rootCmd = &cobra.Command{
	Use:   "maplink",
	Short: "extracts coordinates from map links",
	Long: `
maplink turns map links (short links, place pages, pinned views, search
queries) into longitude and latitude, one at a time or for every row of an
Excel workbook.
`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if viper.GetBool("verbose") {
			logger.SetLevel(log.DebugLevel)
		}
	},
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.maplink.yaml)")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("api-key", "", "Places API key (also GOOGLE_MAPS_API_KEY)")
	flags.Bool("api-key-from-adc", false, "look up the Places API key with Application Default Credentials")
	flags.String("project", "", "Google Cloud project used with --api-key-from-adc")
	flags.Bool("parallel", false, "run every extraction layer concurrently")
	flags.Bool("normalize", false, "normalize Unicode digits and dashes before matching")
	flags.Bool("browser", false, "render pages with a headless browser as a last resort")
	flags.Bool("offline", false, "only match patterns, never touch the network")
	flags.Bool("trace-http", false, "log HTTP requests and responses")
	flags.Bool("trace-http-body", false, "log HTTP bodies too")
	flags.Duration("resolver-timeout", 0, "short link expansion timeout")
	flags.Duration("scraper-timeout", 0, "page fetch timeout")
	flags.Duration("places-timeout", 0, "place search timeout")
	flags.Duration("browser-timeout", 0, "headless browser timeout")
	flags.Duration("overall-timeout", 0, "parallel extraction timeout")
	flags.Duration("join-timeout", 0, "time given to slower layers once the best result is known")
	flags.String("places-url", "", "Places Text Search endpoint")
	flags.StringSlice("resolver-domains", nil, "hosts whose links are expanded before matching")
	flags.Int("attempts", 3, "attempts per workbook row")
	flags.Duration("retry-delay", 2*time.Second, "delay between attempts")
	flags.Duration("row-timeout", 180*time.Second, "timeout of each attempt")
	flags.Int("concurrency", 0, "workbook rows processed at once (default GOMAXPROCS)")
	flags.Bool("report-methods", false, "with --parallel, add one coordinate column pair per method")
	flags.StringSlice("require-columns", nil, "header columns a workbook must have besides the map link, e.g. name,region")
	flags.String("db-path", "", "DuckDB file where results are recorded")

	cobra.CheckErr(viper.BindPFlags(flags))
	cobra.CheckErr(viper.BindEnv("api-key", "MAPLINK_API_KEY", "GOOGLE_MAPS_API_KEY"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".maplink")
	}

	viper.SetEnvPrefix("maplink")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("using config file", "path", viper.ConfigFileUsed())
	}
}
