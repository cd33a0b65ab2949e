// nat64ctl is a CLI client for the nat64d control API.
package main

import "github.com/nat64d/nat64d/cmd/nat64ctl/commands"

func main() {
	commands.Execute()
}
