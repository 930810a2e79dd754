// Package constants provides common constants used across the statsock project.
package constants

import "time"

const (
	// DefaultTimeout is the default timeout for requests.
	DefaultTimeout = 5 * time.Second
	// DefaultShutdownTimeout is the default timeout for shutdown operations.
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultSocketPath is where the stats socket is bound when nothing else is configured.
	DefaultSocketPath = "/run/statsock/stats.sock"
	// DefaultListenBacklog is the listen(2) backlog of the stats socket.
	DefaultListenBacklog = 5
	// DefaultMaxRequestBytes caps how many request bytes are scanned per connection.
	DefaultMaxRequestBytes = 32
	// MaxRequestBytesLimit is the largest accepted value for the request cap.
	MaxRequestBytesLimit = 4096
	// DefaultSocketPermissions is applied to the socket file after bind.
	DefaultSocketPermissions = "0666"
	// DefaultDirPermissions is used for missing parent directories of the socket.
	DefaultDirPermissions = "0777"
	// DefaultReportInterval is how often the reporter logs the counters.
	DefaultReportInterval = time.Minute
)
