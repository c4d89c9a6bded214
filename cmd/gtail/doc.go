// Package main hosts the gtail CLI entrypoint.
//
// The Cobra-based command translates the invocation into a resolved
// config.Options, performs the initial window extraction for every file
// operand, and hands the open descriptors to the follow engine when a
// follow mode is requested. It centralizes defaults-file resolution,
// structured logging setup, and the process exit-status policy.
//
// Keep this package lean: extraction, change detection, and output
// formatting live in the internal packages; this package only wires them
// together.
package main
