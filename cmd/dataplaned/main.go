package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/dataplane/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dataplaned",
	Short: "dataplaned serves the multi-tenant dataset/file data plane",
	Long: `dataplaned is the reference binary for the data-plane core: a
multi-tenant store for content-addressed datasets and files, backed by a
pluggable object-store backend and an external metadata catalogue.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the process config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the config file's log level")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCheckCmd)
}

func initLogging() {
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	if level == "" {
		level = string(log.InfoLevel)
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: logJSON})
}
