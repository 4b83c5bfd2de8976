// Package tools owns external tool execution.
//
// Ownership boundary:
// - one subprocess per Tool, argv vector only
//
// - timeout, termination and output capture
//
// - output parsing hooks and best-effort sandbox cleanup
//
// A Tool records exactly one terminal outcome. Callers check Finished before
// reading Result; after that the result never changes.
package tools
