// Package errdefs defines the error kinds shared by all herd components
// and their translation to HTTP status codes.
package errdefs
