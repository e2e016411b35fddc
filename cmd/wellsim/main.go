// Command wellsim runs the well model of a case file against a fixed
// reservoir state, optionally split over several in-process ranks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
