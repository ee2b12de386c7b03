package amm

import (
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

// LoadReservesSnapshot reads the all-pools snapshot from the primary store.
// A missing key yields an empty snapshot; an undecodable one is logged and
// treated as missing per the decode-failure policy.
func LoadReservesSnapshot(db *store.Store, log *logging.Logger) (*schema.ReservesSnapshot, error) {
	raw, found, err := db.Get(ReservesSnapshotKey())
	if err != nil {
		return nil, err
	}
	if !found {
		return schema.NewReservesSnapshot(), nil
	}
	snapshot, err := schema.DecodeReservesSnapshot(raw)
	if err != nil {
		log.Error("Failed to decode reserves snapshot, starting empty", "error", err)
		return schema.NewReservesSnapshot(), nil
	}
	return snapshot, nil
}

// poolsFromSnapshot rebuilds the pool definitions map from the snapshot;
// the snapshot carries both token ids per pool precisely so this needs no
// extra lookups.
func poolsFromSnapshot(snapshot *schema.ReservesSnapshot) map[schema.AlkaneId]*schema.MarketDefs {
	pools := make(map[schema.AlkaneId]*schema.MarketDefs, len(snapshot.Entries))
	for pool, snap := range snapshot.Entries {
		pools[pool] = &schema.MarketDefs{
			PoolID:  pool,
			BaseID:  snap.BaseID,
			QuoteID: snap.QuoteID,
		}
	}
	return pools
}
