package main

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/remoteindex"
)

var infoJSON bool

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
}

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details about a package",
	Long: `Show a package's installed state, alongside the version currently
published by the formula index.

Examples:
  pac info fish`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

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
		rec, installed, err := tx.RecordByName(globalCtx, name, e.cfg.Prefix)
		var deps []string
		if installed && err == nil {
			deps, err = tx.Dependencies(globalCtx, rec.ID)
		}
		tx.Rollback()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			exitWithCode(ExitGeneral)
		}

		meta, metaErr := e.index.Fetch(globalCtx, name)
		if metaErr != nil && !installed {
			printInstallError(name, metaErr)
			if kind, ok := pacerr.KindOf(metaErr); ok && kind == pacerr.NotFound {
				exitWithCode(ExitUsage)
			}
			exitWithCode(ExitGeneral)
		}

		outdated := false
		if installed && metaErr == nil {
			outdated = isOutdated(rec.Version, meta.StableVersion)
		}

		if infoJSON {
			printJSON(struct {
				Name          string   `json:"name"`
				Installed     bool     `json:"installed"`
				Version       string   `json:"version,omitempty"`
				Explicit      bool     `json:"explicit,omitempty"`
				InstallTime   int64    `json:"install_time,omitempty"`
				Dependencies  []string `json:"dependencies,omitempty"`
				LatestVersion string   `json:"latest_version,omitempty"`
				Outdated      bool     `json:"outdated"`
			}{
				Name:          name,
				Installed:     installed,
				Version:       rec.Version,
				Explicit:      rec.Explicit,
				InstallTime:   rec.InstallTime,
				Dependencies:  deps,
				LatestVersion: latestVersion(meta),
				Outdated:      outdated,
			})
			return
		}

		printInfo(name)
		if installed {
			kind := "dependency"
			if rec.Explicit {
				kind = "explicit"
			}
			printInfof("  installed: %s (%s, installed %s)\n", rec.Version, kind,
				time.Unix(rec.InstallTime, 0).Format(time.RFC3339))
			if len(deps) > 0 {
				printInfof("  depends on: %s\n", joinNames(deps))
			}
		} else {
			printInfo("  not installed")
		}
		if meta != nil {
			printInfof("  latest: %s\n", meta.StableVersion)
			if outdated {
				printInfo("  an update is available")
			}
		}
	},
}

// isOutdated reports whether latest is a newer semantic version than
// installed. Versions the formula index doesn't express as clean semver
// (revision suffixes, date-based releases) fall back to a plain string
// comparison rather than failing the command.
func isOutdated(installed, latest string) bool {
	iv, err1 := semver.NewVersion(installed)
	lv, err2 := semver.NewVersion(latest)
	if err1 != nil || err2 != nil {
		return installed != latest
	}
	return lv.GreaterThan(iv)
}

func latestVersion(meta *remoteindex.PackageMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.StableVersion
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
