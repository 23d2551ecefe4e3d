// File: cmd/hmq/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hmq sends, receives and routes messages over hioload-mq sockets.

package main

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-mq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hmq:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
