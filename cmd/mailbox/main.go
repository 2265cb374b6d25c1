package main

import (
	"os"

	"mailbox/cmd/mailbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
