package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nat64d/nat64d/internal/nat64"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// --- Pool ---

func formatPool(entries []nat64.PoolAddressInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(entries)
	case formatTable:
		return formatPoolTable(entries), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPoolTable(entries []nat64.PoolAddressInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tREMOVAL-PENDING\tUDP-IN-USE\tTCP-IN-USE\tICMP-IN-USE")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\n",
			e.Addr, e.RemovalPending, e.InUse[nat64.ProtoUDP], e.InUse[nat64.ProtoTCP], e.InUse[nat64.ProtoICMP])
	}

	_ = w.Flush()
	return buf.String()
}

// --- BIB ---

func formatBIB(entries []nat64.BIBEntryInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(entries)
	case formatTable:
		return formatBIBTable(entries), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatBIBTable(entries []nat64.BIBEntryInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tIPV6\tIPV4\tSTATIC\tSESSIONS")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t[%s]:%d\t%s:%d\t%v\t%d\n",
			e.Proto, e.V6.Addr, e.V6.Port, e.V4.Addr, e.V4.Port, e.Static, e.Sessions)
	}

	_ = w.Flush()
	return buf.String()
}

// --- Sessions ---

func formatSessions(sessions []nat64.SessionInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(sessions []nat64.SessionInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tV6-LOCAL\tV6-REMOTE\tV4-LOCAL\tV4-REMOTE\tTCP-STATE\tEXPIRES-IN")

	for _, s := range sessions {
		tcpState := "-"
		if s.Proto == nat64.ProtoTCP {
			tcpState = s.TCPState.String()
		}
		fmt.Fprintf(w, "%s\t[%s]:%d\t[%s]:%d\t%s:%d\t%s:%d\t%s\t%s\n",
			s.Proto,
			s.V6.Local.Addr, s.V6.Local.Port, s.V6.Remote.Addr, s.V6.Remote.Port,
			s.V4.Local.Addr, s.V4.Local.Port, s.V4.Remote.Addr, s.V4.Remote.Port,
			tcpState, s.ExpireIn,
		)
	}

	_ = w.Flush()
	return buf.String()
}

// --- JSON ---

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
