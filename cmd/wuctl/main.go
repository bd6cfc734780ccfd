package main

import (
	"os"

	"github.com/b0r1v0j3/workers-united/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
