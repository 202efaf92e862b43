// Command healthgate serves the aggregate health of a group of backend services.
//
// Usage:
//
//	healthgate serve --config /etc/healthgate.json
//	healthgate check --config /etc/healthgate.json
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
