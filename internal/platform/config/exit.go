package config

import (
	"fmt"
	"os"
)

// Exitf prints a startup failure to stderr and terminates with exit code 1.
// Commands use it for flag and environment errors, where a log prefix and
// timestamp would only be noise.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
