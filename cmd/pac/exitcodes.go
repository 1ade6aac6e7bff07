package main

import "os"

// Exit codes for different failure modes, so scripts driving pac can
// distinguish them.
const (
	ExitSuccess   = 0
	ExitGeneral   = 1
	ExitUsage     = 2
	ExitCancelled = 3
)

func exitWithCode(code int) {
	os.Exit(code)
}
