// Command syncctl is the command-line client for a chatsyncd server.
package main

import (
	"os"

	"chatsyncd/cmd/syncctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
