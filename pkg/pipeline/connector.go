package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgeflare/restless/pkg/pipeline/cdc"
)

var (
	ErrConnectorNotFound   = errors.New("connector not found")
	ErrConnectorRegistered = errors.New("connector already registered")
	ErrNotConnected        = errors.New("connector not connected")
)

// A Connector delivers change events to one destination.
type Connector interface {
	// Connect initializes the connector. config holds the peer's settings and
	// is decoded by the connector, usually with DecodeConfig.
	Connect(config map[string]any) error

	// Pub sends the event to the connector's destination.
	Pub(ctx context.Context, event cdc.Event) error

	Disconnect() error
}

// Factory returns a fresh, unconnected Connector. Every peer gets its own.
type Factory func() Connector

// Predefined connectors
const (
	ConnectorClickHouse = "clickhouse"
	ConnectorDebug      = "debug"
	ConnectorHTTP       = "http"
	ConnectorKafka      = "kafka"
	ConnectorMQTT       = "mqtt"
	ConnectorNATS       = "nats"
)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterConnector makes a connector available to peers under name. It is
// meant to be called from the init function of the connector's package.
func RegisterConnector(name string, f Factory) error {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, ok := factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrConnectorRegistered, name)
	}
	factories[name] = f
	return nil
}

// MustRegisterConnector is like RegisterConnector but panics on a duplicate name.
func MustRegisterConnector(name string, f Factory) {
	if err := RegisterConnector(name, f); err != nil {
		panic(err)
	}
}

// NewConnector returns a new instance of the named connector.
func NewConnector(name string) (Connector, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, name)
	}
	return f(), nil
}

// Connectors lists the registered connector names in sorted order.
func Connectors() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
