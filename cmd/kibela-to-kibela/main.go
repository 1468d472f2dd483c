// kibela-to-kibela migrates notes between Kibela teams.
package main

import "github.com/kibela/kibela-to-kibela/pkg/cli"

// Build-time variables set via ldflags
var (
	Version = "dev"
)

func main() {
	cli.Version = Version
	cli.Execute()
}
