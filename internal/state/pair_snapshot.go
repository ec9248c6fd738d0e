package state

import (
	"context"
	"encoding/base64"

	"github.com/vmihailenco/msgpack/v5"
)

const pairKeyPrefix = "pair:"

// PairSnapshot is the persisted slice of one (account, strategy) pair's
// scheduler state: enough to keep a suspended strategy suspended across a
// restart and to resume fault accounting where it left off.
type PairSnapshot struct {
	Account       string `msgpack:"account"`
	Strategy      string `msgpack:"strategy"`
	FaultCount    int    `msgpack:"fault_count"`
	Suspended     bool   `msgpack:"suspended"`
	SuspendReason string `msgpack:"suspend_reason"`
	LastFault     string `msgpack:"last_fault"`
	UpdatedAtMS   int64  `msgpack:"updated_at_ms"`
}

func PairKey(account, strategy string) string {
	return pairKeyPrefix + account + ":" + strategy
}

func SavePairSnapshot(ctx context.Context, store Store, snapshot PairSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := PairKey(snapshot.Account, snapshot.Strategy)
	return store.Set(ctx, key, base64.StdEncoding.EncodeToString(payload))
}

func LoadPairSnapshot(ctx context.Context, store Store, account, strategy string) (PairSnapshot, bool, error) {
	if store == nil {
		return PairSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, PairKey(account, strategy))
	if err != nil || !ok {
		return PairSnapshot{}, false, err
	}
	snapshot, err := decodePairSnapshot(raw)
	if err != nil {
		return PairSnapshot{}, false, err
	}
	return snapshot, true, nil
}

// LoadAllPairSnapshots restores every persisted pair, keyed account:strategy.
func LoadAllPairSnapshots(ctx context.Context, store Store) ([]PairSnapshot, error) {
	if store == nil {
		return nil, nil
	}
	entries, err := store.List(ctx, pairKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]PairSnapshot, 0, len(entries))
	for _, raw := range entries {
		snapshot, err := decodePairSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func decodePairSnapshot(raw string) (PairSnapshot, error) {
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return PairSnapshot{}, err
	}
	var snapshot PairSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return PairSnapshot{}, err
	}
	return snapshot, nil
}
