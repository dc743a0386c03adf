// tb-remediate consumes classified network anomalies and applies
// idempotent Kubernetes remedies for them.
//
// Usage:
//
//	tb-remediate run                       # consume the predictions topic
//	tb-remediate simulate --dry-run        # replay the sample events
//	tb-remediate journal verify            # check the outcome journal chain
package main

import "github.com/tinkerbelle-io/tb-remediate/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
