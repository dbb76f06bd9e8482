// panelsense-admin manages the panel credential store of a PanelSense
// gateway: registering panels, rotating their configuration and issuing
// admin tokens for the HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
