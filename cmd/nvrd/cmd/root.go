// Package cmd implements nvrd's Cobra command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "nvrd",
	Short:   "Network video recorder core: ingest, segment, serve, retain",
	Version: version.Short(),
	Long: `nvrd drives the full recording pipeline for a set of RTSP camera
sources: each enabled stream gets its own Packet Ring, Stream Reader,
MP4 Segmenter, HLS Writer, and optional Detection Tap, all owned by the
Lifecycle Manager and backed by a durable Recording Catalog.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/lightnvr/config.yaml)")
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
}

// loadConfig resolves the effective configuration from --config, the
// environment, and defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
