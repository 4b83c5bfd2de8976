// Package catalog maps tool names to executable definitions and builds
// fresh tool instances for a scan target.
package catalog
