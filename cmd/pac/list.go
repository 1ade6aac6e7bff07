package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long:  `List every package currently recorded in the catalog.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := buildEnv()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}
		defer e.store.Close()

		tx, err := e.store.Begin(globalCtx)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}
		names, err := tx.AllNames(globalCtx)
		tx.Rollback()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}

		if listJSON {
			printJSON(struct {
				Packages []string `json:"packages"`
			}{Packages: names})
			return
		}

		if len(names) == 0 {
			printInfo("No packages installed.")
			return
		}
		printInfof("Installed packages (%d total):\n\n", len(names))
		for _, n := range names {
			printInfo(" ", n)
		}
	},
}
