// Package identity resolves who this exporter is running as: the node it is
// scheduled on and the address of the pod it shares with the storage engine.
//
package identity

import (
	"errors"
	"fmt"
	"os"
)

const (
	// NodeNameEnv is the environment variable carrying the node name,
	// usually populated through the downward API.
	//
	NodeNameEnv = "MY_NODE_NAME"

	// PodIPEnv is the environment variable carrying the pod address.
	//
	PodIPEnv = "MY_POD_IP"
)

// ErrNotFound is returned when the identity variable is unset or empty.
//
var ErrNotFound = errors.New("identity not found")

// NodeNamer resolves the name of the node metrics are being reported for.
//
type NodeNamer interface {
	NodeName() (string, error)
}

// NodeNamerFunc adapts a function to the NodeNamer interface.
//
type NodeNamerFunc func() (string, error)

func (f NodeNamerFunc) NodeName() (string, error) {
	return f()
}

// Env resolves identity from environment variables.
//
type Env struct {
	lookup func(string) (string, bool)
}

var _ NodeNamer = (*Env)(nil)

// NewEnv instantiates an Env reading from the process environment.
//
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// NewEnvFromMap instantiates an Env reading from a fixed set of values.
//
func NewEnvFromMap(values map[string]string) *Env {
	return &Env{
		lookup: func(k string) (string, bool) {
			v, ok := values[k]
			return v, ok
		},
	}
}

func (e *Env) NodeName() (string, error) {
	return e.get(NodeNameEnv)
}

func (e *Env) PodIP() (string, error) {
	return e.get(PodIPEnv)
}

func (e *Env) get(key string) (string, error) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("env '%s': %w", key, ErrNotFound)
	}

	return v, nil
}
