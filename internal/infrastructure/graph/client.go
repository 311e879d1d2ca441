package graph

import (
	"context"
	"errors"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
)

// Client is the minimal contract the referral graph needs from a graph
// database.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a simplified query response.
type Result struct {
	Records []Record
}

// Record groups the key-value pairs of one returned row.
type Record map[string]any

// Options configures a graph client.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// OptionsFromConfig maps the service configuration onto client options.
func OptionsFromConfig(cfg config.GraphConfig) Options {
	return Options{
		URI:      cfg.URI,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")
