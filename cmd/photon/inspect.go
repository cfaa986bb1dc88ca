package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/photonml/photon/storage"
	"github.com/photonml/photon/trainer"
)

var inspectCBOR bool

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Print a summary of a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := storage.NewLocalFS()
			if inspectCBOR {
				fs = storage.NewLocalFSWithCodec(storage.CBORCodec{})
			}
			var ck trainer.Checkpoint
			if err := fs.Load(args[0], &ck); err != nil {
				return err
			}

			fmt.Printf("version:      %s\n", ck.Version)
			fmt.Printf("epoch:        %d\n", ck.Epoch)
			fmt.Printf("global_step:  %d\n", ck.GlobalStep)
			fmt.Printf("weights_only: %v\n", ck.WeightsOnly())
			fmt.Printf("parameters:   %d\n", len(ck.StateDict))
			if !ck.WeightsOnly() {
				fmt.Printf("optimizers:   %d\n", len(ck.OptimizerStates))
				fmt.Printf("schedulers:   %d\n", len(ck.LRSchedulers))
			}
			if ck.HParams != nil {
				fmt.Printf("hparams:      %s (%s)\n", ck.HParamsName, ck.HParamsType)
			}
			if ck.DataModuleName != "" {
				fmt.Printf("datamodule:   %s\n", ck.DataModuleName)
			}
			if len(ck.Callbacks) > 0 {
				keys := make([]string, 0, len(ck.Callbacks))
				for k := range ck.Callbacks {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Println("callbacks:")
				for _, k := range keys {
					fmt.Printf("  - %s\n", k)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspectCBOR, "cbor", false, "decode the checkpoint as CBOR instead of gob")
	return cmd
}
