package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a connected JSON-RPC endpoint together with its chain id.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
}

// Dial connects to rpcURL and reads the chain id.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial: %w", err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	return &Client{eth: eth, chainID: id}, nil
}

// Eth returns the underlying ethclient.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// ChainID returns the id read at dial time.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close closes the RPC connection.
func (c *Client) Close() error {
	c.eth.Close()
	return nil
}
