// Package util holds small parsing and display helpers: byte sizes for
// server limits and password-free DSNs for startup logs.
package util
