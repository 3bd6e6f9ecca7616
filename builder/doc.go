// Package builder constructs live component instances: it layers the
// effective configuration (defaults, base chain, caller fields), allocates
// the instance's presentation surfaces, wires it into the instance tree,
// resolves its dependencies with itself as context and hands the finished
// subtree to the lifecycle coordinator. Builds nested under a still-pending
// parent defer coordination to the parent's run.
package builder
