// Command server runs the specification-driven query gateway.
package main

import (
	"fmt"
	"os"

	"github.com/forbearing/querygate/bootstrap"
)

func main() {
	if err := bootstrap.Bootstrap(); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap failed:", err)
		os.Exit(1)
	}
	if err := bootstrap.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "server stopped with error:", err)
		os.Exit(1)
	}
}
