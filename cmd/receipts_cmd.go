package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect deletion receipts",
	}
	cmd.AddCommand(receiptsGetCmd())
	cmd.AddCommand(receiptsVerifyCmd())
	return cmd
}

func receiptsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the deletion receipt for an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			r, err := c.Receipt(cmd.Context(), args[0])
			if err != nil {
				return coreErr(err)
			}
			printJSON(r)
			return nil
		},
	}
	addCoreFlags(cmd)
	return cmd
}

func receiptsVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Ask the Core to check a receipt's proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			ok, err := c.VerifyReceipt(cmd.Context(), args[0])
			if err != nil {
				return coreErr(err)
			}
			if !ok {
				return fmt.Errorf("receipt for %s does NOT verify", args[0])
			}
			fmt.Printf("receipt for %s verifies\n", args[0])
			return nil
		},
	}
	addCoreFlags(cmd)
	return cmd
}
