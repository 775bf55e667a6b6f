// Command cadenced runs a cadence scheduling node and offers control
// commands against a running cluster.
//
//	cadenced run --config cadence.yaml
//	cadenced trigger 42 --config cadence.yaml
//	cadenced kill 7319250611823 --config cadence.yaml
//	cadenced rerun 7319250611823 --config cadence.yaml
//	cadenced refresh 17 --delete --config cadence.yaml
//
// Control commands open the configured backends directly, or with
// --server http://node:8080 go through the HTTP API of a running node.
// Setting audit: true in the config logs every lifecycle event as an
// audit record.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
