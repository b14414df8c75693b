package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// newDIDCmd wires the `did manage` group: DID document maintenance lives
// in a VM framework contract out of this module's scope (spec.md §1), so
// each subcommand only forwards a named entry-function call to the VM
// boundary (internal/executor.CallReadonlyFunction) with the CLI
// arguments as raw byte args; the contract itself interprets them.
func newDIDCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "did", Short: "DID document maintenance over the VM's did contract"}
	manage := &cobra.Command{Use: "manage", Short: "DID document management entry points"}
	manage.AddCommand(newDIDEntryCmd("add-vm", "add_vm"))
	manage.AddCommand(newDIDEntryCmd("remove-vm", "remove_vm"))
	manage.AddCommand(newDIDEntryCmd("add-service", "add_service"))
	manage.AddCommand(newDIDEntryCmd("remove-service", "remove_service"))
	cmd.AddCommand(manage)
	return cmd
}

func newDIDEntryCmd(use, function string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [args...]",
		Short: fmt.Sprintf("call did::%s on the VM's did contract", function),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callDIDEntry(cmd.Context(), function, args)
		},
	}
}

func callDIDEntry(ctx context.Context, function string, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := bootstrapNode(ctx, cfg)
	if err != nil {
		return failedToStart(err)
	}
	defer n.close()

	callArgs := make([][]byte, len(args))
	for i, a := range args {
		callArgs[i] = []byte(a)
	}
	call := vmbridge.FunctionCall{Module: "did", Function: function, Args: callArgs}

	res, err := n.exec.CallReadonlyFunction(ctx, vmbridge.TxContext{}, call)
	if err != nil {
		return fmt.Errorf("did::%s: %w", function, err)
	}
	fmt.Printf("did::%s returned %d value(s)\n", function, len(res.ReturnValues))
	for i, v := range res.ReturnValues {
		fmt.Printf("  [%d] %x\n", i, v)
	}
	return nil
}
