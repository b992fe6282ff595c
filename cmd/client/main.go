package main

import (
	"os"

	"github.com/omochice/drocsid-chat/internal/cli"
)

func main() {
	if err := cli.NewClientCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
