// Package main provides the entry point for the mailvault CLI.
package main

import (
	"github.com/mailvault/mailvault/internal/cli"
)

func main() {
	cli.Execute()
}
