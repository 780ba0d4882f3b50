package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"swap-relay/internal/solana"
)

// ErrNotFound is returned when an account or lookup table is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Blockhash    solana.Hash
	Accounts     map[string]*solana.AccountInfo
	LookupTables map[solana.PublicKey]solana.AddressLookupTable
	Statuses     map[string]*solana.SignatureStatus
	SimulateErr  interface{}

	// SendErrs are returned by successive SendTransaction calls before succeeding.
	SendErrs []error
	Sent     []string
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Blockhash:    solana.MustPublicKey("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"),
		Accounts:     make(map[string]*solana.AccountInfo),
		LookupTables: make(map[solana.PublicKey]solana.AddressLookupTable),
		Statuses:     make(map[string]*solana.SignatureStatus),
	}
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.LatestBlockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &solana.LatestBlockhash{Blockhash: c.Blockhash, LastValidBlockHeight: 1000}, nil
}

// GetAccountInfo retrieves an account from the stub store, nil if absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// GetAddressLookupTables retrieves lookup tables from the stub store.
func (c *RPCClient) GetAddressLookupTables(_ context.Context, keys []solana.PublicKey) ([]solana.AddressLookupTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tables := make([]solana.AddressLookupTable, 0, len(keys))
	for _, k := range keys {
		t, ok := c.LookupTables[k]
		if !ok {
			return nil, fmt.Errorf("lookup table %s: %w", k, ErrNotFound)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// SimulateTransaction returns SimulateErr as the simulation outcome.
func (c *RPCClient) SimulateTransaction(_ context.Context, _ string) (*solana.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &solana.SimulationResult{Err: c.SimulateErr}, nil
}

// SendTransaction records the transaction and returns the fee payer
// signature it carries.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		return "", err
	}

	tx, err := solana.DecodeTransactionBase64(txBase64)
	if err != nil {
		return "", err
	}
	c.Sent = append(c.Sent, txBase64)
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("unsigned transaction")
	}
	return tx.Signatures[0].String(), nil
}

// GetSignatureStatuses returns statuses from the stub store.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// SetStatus sets the status reported for a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// SentCount returns the number of transactions sent.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

var _ solana.RPCClient = (*RPCClient)(nil)
