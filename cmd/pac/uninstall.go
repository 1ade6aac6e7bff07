package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Uninstall a package",
	Long: `Uninstall a package, cascading through any dependency left without
a remaining reverse dependent.

Examples:
  pac uninstall fish`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		e, err := buildEnv()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}
		defer e.store.Close()

		if err := e.uninstaller().Uninstall(globalCtx, name); err != nil {
			printUninstallError(name, err)
			exitWithCode(ExitGeneral)
		}

		printInfof("Uninstalled %s\n", name)
	},
}
