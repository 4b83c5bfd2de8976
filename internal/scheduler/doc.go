// Package scheduler owns job admission and reaping.
//
// Ownership boundary:
// - FIFO pending queue and running set
//
// - concurrency limit on launched tools
//
// - job status transitions PENDING -> RUNNING -> FINISHED
//
// One polling loop admits, then reaps, then idles for the poll interval. Tools
// run on their own goroutines and are never killed by the scheduler; Stop only
// ends admission and reaping.
package scheduler
