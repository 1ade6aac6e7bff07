package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pacmgr/pac/internal/pacerr"
)

var installCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Install a package",
	Long: `Install a package and its dependencies from the formula index,
relocating the bottle into the install prefix.

Examples:
  pac install fish
  pac install wget`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		e, err := buildEnv()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}
		defer e.store.Close()

		if err := e.installer().Install(globalCtx, name); err != nil {
			printInstallError(name, err)
			if kind, ok := pacerr.KindOf(err); ok && kind == pacerr.BrokenPackagePresent {
				exitWithCode(ExitUsage)
			}
			exitWithCode(ExitGeneral)
		}

		printInfof("Installed %s\n", name)
	},
}
