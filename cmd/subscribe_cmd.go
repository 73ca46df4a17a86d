package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func subscribeCmd() *cobra.Command {
	var callback string
	var list bool
	cmd := &cobra.Command{
		Use:   "subscribe [agent-id]",
		Short: "Register an agent (optionally with a callback URL) or list subscribers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			if list || len(args) == 0 {
				subs, err := c.Subscribers(cmd.Context())
				if err != nil {
					return coreErr(err)
				}
				printJSON(subs)
				return nil
			}
			if err := c.Subscribe(cmd.Context(), args[0], callback); err != nil {
				return coreErr(err)
			}
			fmt.Printf("subscribed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&callback, "callback", "", "URL notified of deletions when dispatch is enabled")
	cmd.Flags().BoolVar(&list, "list", false, "list subscribers instead")
	addCoreFlags(cmd)
	return cmd
}
