// Package config - defaults.go centralizes default values.
package config

import "time"

// =============================================================================
// ENDPOINTS
// =============================================================================

// DefaultServerURL is used when no endpoint candidate matches.
const DefaultServerURL = "http://localhost:8000"

// DefaultLoginPath is the password login endpoint.
const DefaultLoginPath = "/api/auth/login/"

// DefaultRefreshPath is the token refresh endpoint.
const DefaultRefreshPath = "/api/auth/refresh/"

// DefaultProfilePath returns the authenticated user's profile.
const DefaultProfilePath = "/api/auth/me/"

// =============================================================================
// SESSION
// =============================================================================

// DefaultExpiryThreshold is how close to expiry an access token is treated
// as expiring soon and refreshed in the background.
const DefaultExpiryThreshold = 5 * time.Minute

// DefaultRefreshTimeout bounds a single refresh exchange.
const DefaultRefreshTimeout = 10 * time.Second

// =============================================================================
// RETRY
// =============================================================================

// DefaultMaxAttempts is the total number of attempts per request.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the backoff before the second attempt.
const DefaultBaseDelay = 500 * time.Millisecond

// DefaultMaxDelay caps a single backoff.
const DefaultMaxDelay = 10 * time.Second

// DefaultAttemptTimeout bounds each individual attempt.
const DefaultAttemptTimeout = 10 * time.Second

// =============================================================================
// STORAGE
// =============================================================================

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// DefaultStorageDriver keeps sessions across CLI invocations.
const DefaultStorageDriver = StorageFile

// DefaultTokenFile is the file medium's path.
const DefaultTokenFile = ".authsession-tokens.json"

// DefaultSQLitePath is the SQLite medium's database file.
const DefaultSQLitePath = ".authsession.db"

// DefaultRedisAddr is the Redis medium's server.
const DefaultRedisAddr = "localhost:6379"

// DefaultRedisPrefix namespaces Redis keys.
const DefaultRedisPrefix = "authsession"

// DefaultNamespace separates sessions that share a medium.
const DefaultNamespace = "default"

// =============================================================================
// LOGGING
// =============================================================================

// DefaultLogLevel is the minimum level written.
const DefaultLogLevel = "info"

// DefaultLogFormat is "console" for humans or "json".
const DefaultLogFormat = "console"
