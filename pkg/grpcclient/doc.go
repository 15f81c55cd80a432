// Package grpcclient owns the connection between the exporter and the
// storage engine running next to it.
//
// The engine speaks one of two mutually exclusive gRPC API versions. A
// Manager is built for exactly one of them and keeps retrying until the
// engine accepts the connection, as the engine is frequently not ready by
// the time the exporter starts.
//
package grpcclient
