// Command bridgectl drives the bridge from a terminal: `chat` runs one request
// through the same submit/poll/release loop a host worker uses, and `serve`
// exposes the boundary over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bridgectl:", err)
		os.Exit(1)
	}
}
