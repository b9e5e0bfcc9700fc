// Package cmd implements pinodectl, a small diagnostics CLI that
// queries a running pinoded's JSON stats endpoints.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is pinodectl's entry point.
var RootCmd = &cobra.Command{
	Use:   "pinodectl",
	Short: "query a running pinoded node",
}

var target string

func init() {
	RootCmd.PersistentFlags().StringVar(&target, "target", "http://localhost:8080", "base URL of the pinoded JSON stats server")
}

// Execute runs the CLI.
func Execute() {
	log.SetLevel(log.InfoLevel)
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
