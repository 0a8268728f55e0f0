// Planner: turn a request into a dependency-aware plan, run it and revise it on failure.
// Checkpoints and templates live in SQLite by default; see "planner init".
package main

import "github.com/contenox/planner/internal/plancli"

func main() {
	plancli.Main()
}
