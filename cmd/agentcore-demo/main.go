// Command agentcore-demo is the composition root: it wires a capability
// registry, negotiation fallback policy, variant lifecycle store, and
// governance instance together behind one process, for local exercise of
// the core without any transport layer attached.
package main

import (
	"fmt"
	"os"

	"github.com/agentcore/agentcore/cmd/agentcore-demo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
