package main

import (
	"github.com/jguan/picturebook/pkg/cli"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=... -X main.gitCommit=...".
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.SetVersion(version, buildDate, gitCommit)
	cli.Execute()
}
