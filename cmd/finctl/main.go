// finctl is the command line for the finance engine.
//
// Usage: go run ./cmd/finctl --help
package main

import "crm-finance/internal/adapters/cli"

func main() {
	cli.Execute()
}
