package xrayflow

// Version identifies this build of the workflow engine. BuildDate and
// GitCommit are overridden at link time via -ldflags; the defaults here
// are what a `go run` build reports.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)
