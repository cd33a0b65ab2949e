package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nat64d/nat64d/internal/nat64"
)

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the IPv4 address pool",
	}

	cmd.AddCommand(poolListCmd())
	cmd.AddCommand(poolAddCmd())
	cmd.AddCommand(poolDeleteCmd())

	return cmd
}

func poolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pool addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var entries []nat64.PoolAddressInfo
			if err := doRequest(cmd.Context(), http.MethodGet, "/v1/pool", nil, &entries); err != nil {
				return fmt.Errorf("list pool: %w", err)
			}

			out, err := formatPool(entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format pool: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func poolAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <ipv4-address>",
		Short: "Register an IPv4 address with the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := doRequest(cmd.Context(), http.MethodPost, "/v1/pool",
				map[string]string{"addr": args[0]}, nil); err != nil {
				return fmt.Errorf("add pool address: %w", err)
			}
			fmt.Printf("Pool address %s registered.\n", args[0])
			return nil
		},
	}
}

func poolDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ipv4-address>",
		Short: "Mark a pool address for removal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := doRequest(cmd.Context(), http.MethodDelete, "/v1/pool/"+args[0], nil, nil); err != nil {
				return fmt.Errorf("delete pool address: %w", err)
			}
			fmt.Printf("Pool address %s removed.\n", args[0])
			return nil
		},
	}
}
