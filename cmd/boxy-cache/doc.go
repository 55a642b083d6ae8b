// Package main hosts the boxy-cache command, an operator tool for the audio
// cache the Boxy bot keeps between downloads.
//
// Commands open the cache directory for the duration of one invocation, so
// they refuse to run while the bot itself holds the directory lock. Use
// `boxy-cache stats` and `boxy-cache list` to inspect usage, `evict` and
// `clear` to reclaim space, and `config init` to scaffold a config file.
package main
