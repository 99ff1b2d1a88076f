package main

import "github.com/railzwaylabs/stockflow/internal/cli"

func main() {
	cli.Execute()
}
