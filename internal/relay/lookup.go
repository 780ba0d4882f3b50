package relay

import (
	"context"
	"fmt"
	"time"

	"swap-relay/internal/cache"
	"swap-relay/internal/solana"
)

const lookupTableTTL = 10 * time.Minute

// lookupResolver expands the account index space of v0 messages, caching
// lookup table contents between requests.
type lookupResolver struct {
	rpc    solana.RPCClient
	tables *cache.TTLMap[[]solana.PublicKey]
}

func newLookupResolver(rpc solana.RPCClient) *lookupResolver {
	return &lookupResolver{rpc: rpc, tables: cache.NewTTLMap[[]solana.PublicKey]()}
}

// accountKeys returns the full account key list of msg.
func (l *lookupResolver) accountKeys(ctx context.Context, msg *solana.Message) ([]solana.PublicKey, error) {
	if len(msg.AddressTableLookups) == 0 {
		return msg.AccountKeys, nil
	}

	contents := make(map[solana.PublicKey][]solana.PublicKey, len(msg.AddressTableLookups))
	var missing []solana.PublicKey
	for _, lookup := range msg.AddressTableLookups {
		if addrs, ok := l.tables.Get(lookup.AccountKey.String()); ok {
			contents[lookup.AccountKey] = addrs
			continue
		}
		missing = append(missing, lookup.AccountKey)
	}

	if len(missing) > 0 {
		if l.rpc == nil {
			return nil, fmt.Errorf("no rpc client to resolve %d lookup tables", len(missing))
		}
		fetched, err := l.rpc.GetAddressLookupTables(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("get address lookup tables: %w", err)
		}
		for _, t := range fetched {
			contents[t.Key] = t.Addresses
			l.tables.Set(t.Key.String(), t.Addresses, lookupTableTTL)
		}
	}

	return msg.ResolveAccountKeys(contents)
}
