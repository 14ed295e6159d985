package main

import (
	"fmt"

	"github.com/hrz6976/sucker/cmd"
)

// Set at link time with -ldflags "-X main.VERSION=...".
var (
	VERSION     = "<unknown>"
	BUILD_TIME  = "<unknown>"
	COMMIT_HASH = "<unknown>"
)

func main() {
	cmd.RootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", VERSION, BUILD_TIME, COMMIT_HASH)
	cmd.Execute()
}
