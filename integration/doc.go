// Package integration runs the rostermint binary as a child process so tests
// can drive it through its command line, its log file and its exit status.
package integration
