// rtrc is a control/debugging client for an RTR cache session core: it
// dials a cache, drives the client protocol FSM, and prints session events
// as they arrive, in the shape of gobfdctl's monitor/session commands.
package main

import (
	"github.com/bgpsrx/rtrsec/cmd/rtrc/commands"
)

func main() {
	commands.Execute()
}
