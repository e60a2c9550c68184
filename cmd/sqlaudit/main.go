package main

import "github.com/fixora/sqlaudit/internal/cli"

func main() {
	cli.Execute()
}
