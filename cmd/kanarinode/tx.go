package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kanari-network/kanarinode/internal/types"
)

// newTxCmd wires spec.md §4.F step 5's dry-run path to a real caller
// outside the pipeline's own tests: it boots the full node, decodes an
// unsigned L2 payload the same way a live request would, and runs it
// through Processor.DryRunL2Tx without sequencing or persisting anything.
func newTxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "inspect transaction execution without submitting it"}
	cmd.AddCommand(newTxDryRunCmd())
	return cmd
}

func newTxDryRunCmd() *cobra.Command {
	var senderHex, payloadHex string
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "execute an unsigned L2 call against the current state root without persisting the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := bootstrapNode(cmd.Context(), cfg)
			if err != nil {
				return failedToStart(err)
			}
			defer n.close()

			payload, err := hex.DecodeString(payloadHex)
			if err != nil {
				return fmt.Errorf("decode --payload: %w", err)
			}
			var sender types.Address
			if senderHex != "" {
				raw, err := hex.DecodeString(senderHex)
				if err != nil {
					return fmt.Errorf("decode --sender: %w", err)
				}
				copy(sender[:], raw)
			}
			rawHash := types.HashBytes(payload)

			out, err := n.proc.DryRunL2Tx(cmd.Context(), sender, rawHash, payload)
			if err != nil {
				return fmt.Errorf("dry run: %w", err)
			}
			fmt.Printf("status=%v gas_used=%d is_gas_upgrade=%v\n", out.Status, out.GasUsed, out.IsGasUpgrade)
			return nil
		},
	}
	cmd.Flags().StringVar(&senderHex, "sender", "", "hex-encoded sender address (defaults to the zero address)")
	cmd.Flags().StringVar(&payloadHex, "payload", "", "hex-encoded RLP-wire FunctionCall payload")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}
