package main

import (
	"os"

	"github.com/omochice/drocsid-chat/internal/cli"
)

func main() {
	if err := cli.NewServerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
