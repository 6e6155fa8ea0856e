// Command mirror copies the positions of a main trading account onto slave
// accounts, scaled per client.
//
// Usage:
//
//	mirror setup               write config.yaml with the wizard
//	mirror run --auto-start    run the engine with Auto Sync on
//	mirror sync                run one sync and exit
//	mirror stop                ask the running engine to stop Auto Sync
//	mirror status              show the persisted Auto Sync state
//
// Credentials are read from <REF>_API_KEY and <REF>_API_SECRET, optionally
// loaded from a .env file.
package main

import (
	"os"

	"github.com/vadiminshakov/mirror/cmd/mirror/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
