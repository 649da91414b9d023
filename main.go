// vm32 is the command-line interface to the 32-bit bytecode virtual machine.
package main

import (
	"context"
	"os"

	"github.com/nullbus/vm32/internal/cli"
	"github.com/nullbus/vm32/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Run(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
