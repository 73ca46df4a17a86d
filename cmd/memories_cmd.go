package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

func memoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memories",
		Aliases: []string{"mem"},
		Short:   "Create, list and delete memory envelopes on a running Core",
	}
	cmd.AddCommand(memoriesCreateCmd())
	cmd.AddCommand(memoriesListCmd())
	cmd.AddCommand(memoriesGetCmd())
	cmd.AddCommand(memoriesDeleteCmd())
	return cmd
}

func memoriesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [file]",
		Short: "Create an envelope from a JSON file (or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			dec := json.NewDecoder(r)
			dec.UseNumber()
			var env client.Envelope
			if err := dec.Decode(&env); err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}

			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.CreateMemory(cmd.Context(), env)
			if err != nil {
				return coreErr(err)
			}
			printJSON(res)
			return nil
		},
	}
	addCoreFlags(cmd)
	return cmd
}

func memoriesListCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live envelopes, optionally as seen by one agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			list, err := c.ListMemories(cmd.Context(), agent)
			if err != nil {
				return coreErr(err)
			}
			printJSON(list)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "only envelopes granting read/use to this agent")
	addCoreFlags(cmd)
	return cmd
}

func memoriesGetCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			env, err := c.GetMemory(cmd.Context(), args[0], agent)
			if err != nil {
				return coreErr(err)
			}
			printJSON(env)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "check the ACL for this agent")
	addCoreFlags(cmd)
	return cmd
}

func memoriesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an envelope and print its receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.DeleteMemory(cmd.Context(), args[0])
			if err != nil {
				return coreErr(err)
			}
			printJSON(res)
			return nil
		},
	}
	addCoreFlags(cmd)
	return cmd
}
