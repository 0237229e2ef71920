// Command chunkflow demonstrates the transfer engine by wiring two
// workers back-to-back over an in-process link and moving a file between
// them.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
