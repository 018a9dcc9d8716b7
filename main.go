// Entry point for forcesim-client; commands are defined in cmd/.
package main

import (
	"github.com/forcesim/forcesim-client/cmd"
)

func main() {
	cmd.Execute()
}
