package amm

import (
	"context"
	"strings"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
)

// inspectionFactoryMarker is the text looked for inside a contract's
// inspection blob to classify it as an AMM factory.
const inspectionFactoryMarker = "amm-factory"

// inspectionIsFactory reports whether an inspection blob carries the
// factory marker.
func inspectionIsFactory(inspection string) bool {
	return inspection != "" && strings.Contains(inspection, inspectionFactoryMarker)
}

// loadFactories reads the persisted factory membership set.
func (p *Pipeline) loadFactories() error {
	factories := make(map[schema.AlkaneId]struct{})
	err := p.db.IteratePrefix(FactoryPrefix(), false, func(key, _ []byte) (bool, error) {
		if id, ok := FactoryIdFromKey(key); ok {
			factories[id] = struct{}{}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	p.factories = factories
	return nil
}

// classifyFactory decides whether an alkane is an AMM factory: either its
// own inspection matches the marker, or it is a proxy whose resolved
// target's inspection matches.
func (p *Pipeline) classifyFactory(ctx context.Context, alkane schema.AlkaneId) (bool, error) {
	rec, ok, err := p.essentials.CreationRecord(ctx, alkane)
	if err != nil {
		return false, err
	}
	if ok && inspectionIsFactory(rec.Inspection) {
		return true, nil
	}

	target, ok, err := p.essentials.ProxyTarget(ctx, alkane)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	targetRec, ok, err := p.essentials.CreationRecord(ctx, target)
	if err != nil {
		return false, err
	}
	return ok && inspectionIsFactory(targetRec.Inspection), nil
}

// confirmFactory adds a newly classified factory to the in-memory set and
// writes its membership key. Factory identity is append-only.
func (p *Pipeline) confirmFactory(id schema.AlkaneId, w *aof.Tracked) error {
	if _, ok := p.factories[id]; ok {
		return nil
	}
	p.factories[id] = struct{}{}
	return w.Put(Namespace, FactoryKey(id), nil)
}

// prepareFactories refreshes the factory set for a block: a one-shot
// bootstrap scan over all creation records when the set is empty, then
// classification of every contract created in this block.
func (p *Pipeline) prepareFactories(ctx context.Context, blk *source.Block, w *aof.Tracked) error {
	if len(p.factories) == 0 && !p.bootstrapped {
		p.bootstrapped = true
		records, err := p.essentials.CreationRecordsOrdered(ctx)
		if err != nil {
			return err
		}
		discovered := 0
		for _, rec := range records {
			if _, ok := p.factories[rec.Alkane]; ok {
				continue
			}
			isFactory := inspectionIsFactory(rec.Inspection)
			if !isFactory {
				isFactory, err = p.classifyFactory(ctx, rec.Alkane)
				if err != nil {
					return err
				}
			}
			if isFactory {
				if err := p.confirmFactory(rec.Alkane, w); err != nil {
					return err
				}
				discovered++
			}
		}
		p.log.Info("Factory bootstrap complete", "records", len(records), "discovered", discovered)
	}

	for _, tx := range blk.Txs {
		for _, ev := range tx.Events {
			create, ok := ev.(source.CreateEvent)
			if !ok {
				continue
			}
			id, ok := create.ID.Parse()
			if !ok {
				continue
			}
			if _, known := p.factories[id]; known {
				continue
			}
			isFactory, err := p.classifyFactory(ctx, id)
			if err != nil {
				return err
			}
			if isFactory {
				if err := p.confirmFactory(id, w); err != nil {
					return err
				}
				p.log.Info("New AMM factory", "id", id, "height", blk.Height)
			}
		}
	}

	return nil
}
