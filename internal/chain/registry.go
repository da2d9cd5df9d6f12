package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/registry"
)

// DialFunc opens an RPC connection. The default dials ethclient; tests
// inject fakes per chain.
type DialFunc func(ctx context.Context, rpcURL string) (RPC, func(), error)

func defaultDial(ctx context.Context, rpcURL string) (RPC, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// Registry owns the per-chain clients. Clients are created lazily on first
// use and reused; the registry is passed explicitly to every component that
// reads or writes chain state, so tests can inject fakes per chain.
type Registry struct {
	mu        sync.Mutex
	dial      DialFunc
	overrides map[int64]string
	clients   map[int64]*Client
	closers   []func()
}

func NewRegistry(rpcOverrides map[int64]string) *Registry {
	return &Registry{
		dial:      defaultDial,
		overrides: rpcOverrides,
		clients:   map[int64]*Client{},
	}
}

// NewRegistryWithDial builds a registry with a custom dialer for tests.
func NewRegistryWithDial(dial DialFunc, rpcOverrides map[int64]string) *Registry {
	return &Registry{
		dial:      dial,
		overrides: rpcOverrides,
		clients:   map[int64]*Client{},
	}
}

// Client returns the shared client for a chain, dialing it on first use.
// Unsupported chains are a configuration error, never retried.
func (r *Registry) Client(ctx context.Context, chainID int64) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[chainID]; ok {
		return client, nil
	}

	chainCfg, ok := registry.ChainByID(chainID)
	if !ok {
		return nil, agenterr.New(agenterr.CodeConfig, fmt.Sprintf("unsupported chain: %d", chainID))
	}
	rpcURL := chainCfg.RPCURL
	if override, ok := r.overrides[chainID]; ok && strings.TrimSpace(override) != "" {
		rpcURL = strings.TrimSpace(override)
	}

	rpc, closer, err := r.dial(ctx, rpcURL)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeUnavailable, fmt.Sprintf("connect %s rpc", chainCfg.Name), err)
	}
	client := NewClient(chainID, rpc)
	r.clients[chainID] = client
	if closer != nil {
		r.closers = append(r.closers, closer)
	}
	return client, nil
}

// Close releases every dialed connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, closer := range r.closers {
		closer()
	}
	r.closers = nil
	r.clients = map[int64]*Client{}
}
