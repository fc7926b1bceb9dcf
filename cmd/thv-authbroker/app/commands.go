// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the thv-authbroker command-line application.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/runconfig"
	"github.com/stacklok/toolhive-authbroker/pkg/logger"
	"github.com/stacklok/toolhive-authbroker/pkg/versions"
)

var errNoConfig = errors.New("no configuration file specified, use --config flag")

// NewRootCmd creates the root command. Each call returns a fresh command
// tree so tests can execute it repeatedly.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "thv-authbroker",
		DisableAutoGenTag: true,
		Short:             "OAuth 2.0 authorization server brokering to an upstream identity provider",
		Long: `thv-authbroker is an OAuth 2.0 authorization server for MCP clients. It supports
dynamic client registration, delegates user authentication to an upstream OIDC or
OAuth2 identity provider, and issues its own signed access and refresh tokens.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("error displaying help", "error", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize(viper.GetBool("debug"))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("error binding debug flag", "error", err)
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the broker configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("error binding config flag", "error", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "thv-authbroker %s\n", info)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print version information as JSON")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the broker configuration file.

This command checks:
- YAML syntax and unknown keys
- Required fields presence
- Issuer and endpoint URLs
- Token lifetimes and storage settings

Secrets referenced through files or environment variables are not read.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := runconfig.BuildConfig(cfg, 0); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (issuer %s, storage %s)\n",
				cfg.Server.Issuer, storageName(cfg))
			return err
		},
	}
}

func loadConfig() (*runconfig.RunConfig, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, errNoConfig
	}
	slog.Debug("loading configuration", "path", configPath)
	cfg, err := runconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}

func storageName(cfg *runconfig.RunConfig) string {
	if cfg.Storage.Type == "" {
		return "memory"
	}
	return cfg.Storage.Type
}
