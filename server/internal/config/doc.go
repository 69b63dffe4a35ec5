// Package config loads the server configuration.
//
// Sources, in increasing precedence:
//   - built-in defaults (port 8080, version "1.0.0", environment "development", ...)
//   - an optional YAML file passed with -config
//   - environment variables: PORT, GRPC_PORT, APP_NAME, APP_VERSION, APP_ENV,
//     BUILD_NUMBER, GIT_COMMIT, SHUTDOWN_TIMEOUT, LOG_LEVEL
//
// Empty environment variables are ignored. Identity fields (app.*) are never
// empty after Load: a blank value falls back to its default.
//
// Load(path) resolves and validates; validation reports every problem at once.
// Watch(ctx, path, fn) reloads the file on write and hands the new Config to fn.
package config
