package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pacmgr/pac/internal/catalog"
	"github.com/pacmgr/pac/internal/config"
	"github.com/pacmgr/pac/internal/download"
	"github.com/pacmgr/pac/internal/installer"
	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/platform"
	"github.com/pacmgr/pac/internal/remoteindex"
)

// env bundles the process-wide state every subcommand needs: the resolved
// configuration, the opened catalog, the remote index client, and the
// running machine's platform key. None of it is mutated after buildEnv
// returns.
type env struct {
	cfg         *config.Config
	store       *catalog.Store
	index       *remoteindex.Client
	downloader  *download.Downloader
	platformKey string
}

func buildEnv() (*env, error) {
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	platformKey, err := platform.Key()
	if err != nil {
		return nil, fmt.Errorf("failed to determine platform: %w", err)
	}

	store, err := catalog.Open(globalCtx, cfg.CatalogPath())
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:         cfg,
		store:       store,
		index:       remoteindex.New(cfg.APIRoot),
		downloader:  download.New(),
		platformKey: platformKey,
	}, nil
}

func (e *env) installer() *installer.Installer {
	return installer.New(e.store, e.index, e.downloader, e.cfg, e.platformKey)
}

func (e *env) uninstaller() *installer.Uninstaller {
	return installer.NewUninstaller(e.store, e.cfg)
}

// printInfo prints an informational message unless quiet mode is enabled.
func printInfo(a ...interface{}) {
	if !quietFlag {
		fmt.Println(a...)
	}
}

// printInfof prints a formatted informational message unless quiet mode is
// enabled.
func printInfof(format string, a ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, a...)
	}
}

// printJSON marshals v and writes it to stdout.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		exitWithCode(ExitGeneral)
	}
}

// printInstallError writes the single-line "Can not install <name>,
// error: <kind>: <detail>" format the install/uninstall engine's error
// handling design calls for.
func printInstallError(name string, err error) {
	fmt.Fprintln(os.Stderr, pacerr.InstallMessage(name, err))
}

// printUninstallError writes the uninstall counterpart: "Can not
// uninstall <name>, error: <kind>: <detail>".
func printUninstallError(name string, err error) {
	fmt.Fprintln(os.Stderr, pacerr.UninstallMessage(name, err))
}
