package main

import (
	"github.com/spf13/cobra"

	"github.com/photonml/photon/pkg/log"
)

var logLevel string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "photon",
		Short: "Inspect and resolve training checkpoints",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := log.ParseLevel(logLevel); err != nil {
				return err
			}
			log.SetupLogger(logLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.AddCommand(newInspectCmd())
	root.AddCommand(newHPCMaxCmd())
	return root
}
