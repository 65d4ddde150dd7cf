// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/sheet"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/store"
)

// extractOptions builds the extractor options from flags, environment and
// config file.
func extractOptions(ctx context.Context) extract.Options {
	opts := extract.DefaultOptions()

	opts.APIKey = viper.GetString("api-key")
	opts.Normalize = viper.GetBool("normalize")
	opts.EnableBrowser = viper.GetBool("browser")
	opts.Offline = viper.GetBool("offline")
	opts.EnableHTTPTrace = viper.GetBool("trace-http") || viper.GetBool("trace-http-body")
	opts.EnableHTTPBodyTrace = viper.GetBool("trace-http-body")
	opts.Logger = logger

	if placesURL := viper.GetString("places-url"); placesURL != "" {
		opts.PlacesURL = placesURL
	}

	if domains := viper.GetStringSlice("resolver-domains"); len(domains) > 0 {
		opts.ResolverDomains = domains
	}

	for key, d := range map[string]*time.Duration{
		"resolver-timeout": &opts.ResolverTimeout,
		"scraper-timeout":  &opts.ScraperTimeout,
		"places-timeout":   &opts.PlacesTimeout,
		"browser-timeout":  &opts.BrowserTimeout,
		"overall-timeout":  &opts.OverallTimeout,
		"join-timeout":     &opts.JoinTimeout,
	} {
		if v := viper.GetDuration(key); v > 0 {
			*d = v
		}
	}

	if opts.APIKey == "" && !opts.Offline && viper.GetBool("api-key-from-adc") {
		key, err := extract.APIKeyFromADC(ctx, viper.GetString("project"), extract.DefaultKeyDisplayName, logger)
		if err != nil {
			logger.Warn("no Places API key from ADC, place search disabled", "err", err)
		} else {
			opts.APIKey = key
		}
	}

	if opts.APIKey == "" && !opts.Offline {
		logger.Debug("no Places API key, place search disabled")
	}

	return opts
}

func newExtractor(ctx context.Context) (*extract.Extractor, error) {
	return extract.NewExtractor(extractOptions(ctx))
}

func extractMode() extract.Mode {
	if viper.GetBool("parallel") {
		return extract.ModeParallel
	}

	return extract.ModeSequential
}

func retryPolicy() sheet.RetryPolicy {
	return sheet.RetryPolicy{
		Attempts: viper.GetInt("attempts"),
		Delay:    viper.GetDuration("retry-delay"),
		Timeout:  viper.GetDuration("row-timeout"),
	}
}

// openStore opens the results store at path, or returns nil when path is
// empty.
func openStore(path string) (store.Repository, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	return store.Open(path)
}
