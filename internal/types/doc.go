// Package types holds the FlatBuffers tables of the bridge protocol.
package types

//go:generate flatc --go -o .. bridge.fbs
