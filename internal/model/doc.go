// Package model implements the primitive throughput formulas used by netcap.
//
// Every function is a pure computation over its arguments: rates are in
// megabits per second, inputs are validated up front, and any violation is
// reported as an error wrapping ErrInvalidInput. Nothing here logs, retries
// or substitutes defaults, so the functions are safe to call concurrently.
package model
