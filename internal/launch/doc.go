// Package launch runs the container entry command: the process manager
// serving the downloader application.
//
// Plan turns configuration into an argument vector whose bind address
// honours PORT. Preflight checks the binaries the process needs, and Run
// supervises the process in its own process group so a shutdown reaches
// every worker the manager forked.
package launch
