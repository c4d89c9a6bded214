// Package extract computes the initial trailing window of a file.
//
// Seekable files are scanned backward in fixed-size blocks; non-seekable
// input (pipes, sockets) is accumulated into a bounded chain of fixed-size
// chunks that retires its oldest chunk once the chain provably holds more
// than the requested window, keeping memory proportional to the window.
// Every entry point reports the stream offset it reached so a follower can
// resume exactly where extraction stopped.
package extract
