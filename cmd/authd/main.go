// Command authd runs the authcore service and administers its credential
// store.
package main

import (
	"context"
	"os"
)

// Set with -ldflags at build time.
var version = "dev"

func main() {
	cmd := newRootCmd()
	cmd.Version = version
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
