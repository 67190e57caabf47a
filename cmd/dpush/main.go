package main

import (
	"os"

	"github.com/pi314/dpush/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
