// Command ipmcd is the IPMC core daemon: it loads the cold-boot
// configuration, wires every subsystem together, and serves IPMB
// requests until terminated.
package main

import (
	"fmt"
	"os"

	"ipmc-core/cmd/ipmcd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
