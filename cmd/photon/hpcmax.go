package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/photonml/photon/storage"
	"github.com/photonml/photon/trainer"
)

func newHPCMaxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hpc-max <dir>",
		Short: "Resolve the newest rotation checkpoint in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := storage.NewLocalFS()
			if _, ok := trainer.MaxCkptInFolder(fs, args[0], "hpc_ckpt_"); !ok {
				return fmt.Errorf("no rotation checkpoint found in %s", args[0])
			}
			fmt.Println(trainer.MaxCkptPathFromFolder(fs, args[0]))
			return nil
		},
	}
}
