package commands

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nat64d/nat64d/internal/nat64"
)

func bibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bib",
		Short: "Manage Binding Information Base entries",
	}

	cmd.AddCommand(bibListCmd())
	cmd.AddCommand(bibAddCmd())
	cmd.AddCommand(bibDeleteCmd())

	return cmd
}

func bibListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <udp|tcp|icmp>",
		Short: "List BIB entries for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []nat64.BIBEntryInfo
			if err := doRequest(cmd.Context(), http.MethodGet, "/v1/bib/"+args[0], nil, &entries); err != nil {
				return fmt.Errorf("list bib: %w", err)
			}

			out, err := formatBIB(entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format bib: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func bibAddCmd() *cobra.Command {
	var (
		proto  string
		v6Addr string
		v6Port uint16
		v4Addr string
		v4Port uint16
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Install a static BIB entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := map[string]any{
				"proto":   proto,
				"v6_addr": v6Addr,
				"v6_port": v6Port,
				"v4_addr": v4Addr,
				"v4_port": v4Port,
			}
			if err := doRequest(cmd.Context(), http.MethodPost, "/v1/bib", req, nil); err != nil {
				return fmt.Errorf("add bib entry: %w", err)
			}
			fmt.Printf("Static binding %s [%s]:%d <-> %s:%d installed.\n", proto, v6Addr, v6Port, v4Addr, v4Port)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&proto, "proto", "", "protocol: udp, tcp, or icmp (required)")
	flags.StringVar(&v6Addr, "v6-addr", "", "IPv6 transport address (required)")
	flags.Uint16Var(&v6Port, "v6-port", 0, "IPv6 transport port/identifier")
	flags.StringVar(&v4Addr, "v4-addr", "", "IPv4 transport address (required)")
	flags.Uint16Var(&v4Port, "v4-port", 0, "IPv4 transport port/identifier (required)")

	return cmd
}

func bibDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <udp|tcp|icmp> <v6-addr> <v6-port>",
		Short: "Remove a static BIB entry by its IPv6 transport address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[2], 10, 16); err != nil {
				return fmt.Errorf("parse v6 port %q: %w", args[2], err)
			}
			path := fmt.Sprintf("/v1/bib/%s/%s/%s", args[0], args[1], args[2])
			if err := doRequest(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
				return fmt.Errorf("delete bib entry: %w", err)
			}
			fmt.Println("Static binding removed.")
			return nil
		},
	}
}
