// Package lifecycle coordinates the two-phase startup of an instance
// subtree. Discovery walks resolved configuration breadth-first; phase one
// runs init hooks forward through the discovered order, phase two runs ready
// hooks backward and fires deferred starts, so dependencies are initialized
// before anything depends on them and ready before anything above them.
package lifecycle
