// Command aqictl is the operator CLI for the AQI prediction service: it
// imports GSOD observations, applies migrations, runs single cycles and
// reports on stored results.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
