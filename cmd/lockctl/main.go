// lockctl is an operator CLI for the lock arbitration service.
package main

import (
	"fmt"
	"os"

	"github.com/lockarb/lockd/cmd/lockctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
