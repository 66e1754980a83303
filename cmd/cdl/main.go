// Package main is the entry point for the cdl CLI.
package main

import "github.com/cortexlake/cdl/internal/cli"

func main() {
	cli.Execute()
}
