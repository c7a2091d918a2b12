// Package synchronizer applies a worker's output contract to project and
// database resources and owns their state transitions.
package synchronizer
