// Package config carries the resolved invocation options.
//
// The CLI layer produces exactly one immutable Options value and hands it
// by pointer to the extractor and both followers; nothing downstream
// mutates it. A small TOML defaults file can pre-seed the tunables that
// have no natural flag default (sleep interval, unchanged-stats threshold,
// log level); flags always win over the file.
package config
