//go:build !darwin

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "keyrace-menubar runs on macOS only; use `keyrace run --tui` instead")
	os.Exit(1)
}
