// Package falkor provides a FalkorDB client over the Redis protocol.
// Graph mutations and reads go through GRAPH.QUERY / GRAPH.RO_QUERY with
// Cypher text; parameters are rendered into a CYPHER prefix the same way
// the official clients do.
package falkor

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"
)

// GraphClient defines the operations the rest of the system needs from
// the graph store. The interface keeps event application testable
// without a live FalkorDB.
type GraphClient interface {
	// Query runs a read-write Cypher statement against the bound graph.
	Query(ctx context.Context, cypher string, params map[string]interface{}) (*Result, error)
	// ReadQuery runs a read-only Cypher statement.
	ReadQuery(ctx context.Context, cypher string, params map[string]interface{}) (*Result, error)
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	Close()
}

// Client implements GraphClient using rueidis.
type Client struct {
	client rueidis.Client
	graph  string
}

var _ GraphClient = (*Client)(nil)

// ClientOptions holds connection settings for the graph store.
type ClientOptions struct {
	Host     string
	Port     int
	Password string // optional
	Graph    string // graph key all queries are bound to
}

// NewClient connects to FalkorDB and binds the named graph.
func NewClient(opts ClientOptions) (*Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Password:     opts.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	return &Client{client: client, graph: opts.Graph}, nil
}

func (c *Client) Close() { c.client.Close() }

func (c *Client) Ping(ctx context.Context) error {
	cmd := c.client.B().Ping().Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *Client) Query(ctx context.Context, cypher string, params map[string]interface{}) (*Result, error) {
	return c.run(ctx, "GRAPH.QUERY", cypher, params)
}

func (c *Client) ReadQuery(ctx context.Context, cypher string, params map[string]interface{}) (*Result, error) {
	return c.run(ctx, "GRAPH.RO_QUERY", cypher, params)
}

func (c *Client) run(ctx context.Context, command, cypher string, params map[string]interface{}) (*Result, error) {
	full, err := renderQuery(cypher, params)
	if err != nil {
		return nil, err
	}

	cmd := c.client.B().Arbitrary(command).Keys(c.graph).Args(full).Build()
	resp := c.client.Do(ctx, cmd)
	if resp.Error() != nil {
		return nil, fmt.Errorf("graph %s failed: %w", command, resp.Error())
	}

	return parseResult(resp)
}
