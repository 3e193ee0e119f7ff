package main

import (
	"os"

	"github.com/harun/kitool/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
