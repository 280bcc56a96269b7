// Package stats provides latency estimation and server-state accounting
// for destination handles. The RunningAverage tracks an exponentially
// weighted latency per destination, and the Sink interface abstracts the
// gauge storage so the health core never touches a concrete metrics backend.
package stats
