// Package events records timestamped input events to an append-only JSONL log, supports
// tailing the log while it is being written, and streams capture sources into it through a
// privacy-filtering tap.
package events
