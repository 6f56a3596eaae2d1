package main

// Exit codes. Scripts distinguish "nothing newer" from real failures, so
// the no-update case gets its own code.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitNoNewerVersion = 2
)
