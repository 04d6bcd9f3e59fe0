// Command teslacamctl inspects TeslaCam folders and runs exports without
// the agent.
package main

import (
	"context"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
