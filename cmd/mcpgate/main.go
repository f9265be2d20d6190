// Command mcpgate is a security middleware that sits between an agent and
// a Model Context Protocol tool server, enforcing a policy document over
// every tool call and resource read before forwarding JSON-RPC traffic
// between the two.
package main

import (
	"github.com/sentinelcore/mcpgate/cmd/mcpgate/cmd"
	"github.com/sentinelcore/mcpgate/internal/adapter/supervisor"
)

func main() {
	// On Darwin, a re-exec'd invocation of this same binary acts as a
	// standalone watcher process instead of the gateway itself; see
	// supervisor.MaybeRunSupervisor for why that split process is
	// necessary. It never returns when true.
	if supervisor.MaybeRunSupervisor() {
		return
	}
	cmd.Execute()
}
