package grpcclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidEndpoint indicates that the target of the connection could not
// be turned into something dialable.
//
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// APIVersion selects which gRPC API surface of the storage engine is used.
//
type APIVersion int

const (
	// V0 is the general dataplane API.
	//
	V0 APIVersion = iota

	// V1 is the per-resource API, of which we use the pool service.
	//
	V1
)

func (v APIVersion) String() string {
	switch v {
	case V0:
		return "v0"
	case V1:
		return "v1"
	default:
		return fmt.Sprintf("APIVersion(%d)", int(v))
	}
}

// ParseAPIVersion converts "v0"/"v1" (case-insensitive) into an APIVersion.
//
func ParseAPIVersion(s string) (APIVersion, error) {
	switch strings.ToLower(s) {
	case "v0":
		return V0, nil
	case "v1":
		return V1, nil
	default:
		return 0, fmt.Errorf("unknown api version '%s'", s)
	}
}

// Timeouts bounds the time spent connecting to the engine and the time spent
// on each individual request once connected.
//
type Timeouts struct {
	connect time.Duration
	request time.Duration
}

// NewTimeouts instantiates Timeouts with connect and request bounds.
//
func NewTimeouts(connect, request time.Duration) Timeouts {
	return Timeouts{connect: connect, request: request}
}

// DefaultTimeouts are the fixed values used by the exporter.
//
func DefaultTimeouts() Timeouts {
	return NewTimeouts(1*time.Second, 5*time.Second)
}

func (t Timeouts) Connect() time.Duration { return t.connect }
func (t Timeouts) Request() time.Duration { return t.request }

// ConnectionContext is the immutable description of what a Manager connects
// to and how.
//
type ConnectionContext struct {
	endpoint   *url.URL
	timeouts   Timeouts
	apiVersion APIVersion
}

// NewConnectionContext validates `endpoint` (e.g. https://10.1.0.3:10124)
// and bundles it with the timeouts and API version to use.
//
func NewConnectionContext(
	endpoint string, timeouts Timeouts, version APIVersion,
) (ConnectionContext, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return ConnectionContext{}, err
	}

	if version != V0 && version != V1 {
		return ConnectionContext{}, fmt.Errorf(
			"unsupported api version %s", version,
		)
	}

	return ConnectionContext{
		endpoint:   u,
		timeouts:   timeouts,
		apiVersion: version,
	}, nil
}

// EndpointFor builds the endpoint of an engine listening on `host:port`.
//
func EndpointFor(host string, port int) string {
	u := url.URL{
		Scheme: "https",
		Host:   net.JoinHostPort(host, fmt.Sprint(port)),
	}

	return u.String()
}

func (c ConnectionContext) Endpoint() string       { return c.endpoint.String() }
func (c ConnectionContext) Timeouts() Timeouts     { return c.timeouts }
func (c ConnectionContext) APIVersion() APIVersion { return c.apiVersion }

// Target is the host:port form of the endpoint as understood by grpc.
//
func (c ConnectionContext) Target() string {
	return c.endpoint.Host
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrInvalidEndpoint, endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w '%s': unsupported scheme '%s'",
			ErrInvalidEndpoint, endpoint, u.Scheme)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", ErrInvalidEndpoint, endpoint, err)
	}

	if host == "" || port == "" {
		return nil, fmt.Errorf("%w '%s': missing host or port",
			ErrInvalidEndpoint, endpoint)
	}

	return u, nil
}
