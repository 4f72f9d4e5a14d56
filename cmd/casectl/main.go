// Command casectl runs maintenance tasks against the casefile database.
package main

import (
	"context"
	"os"
)

func main() {
	if err := Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
