package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/manifold/pkg/events"
	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// PullResult summarizes one pull attempt: one outcome, or one
// rejection, per ref the remote holds (spec.md §4.6).
type PullResult struct {
	Outcomes map[types.RefName]Relation
	Rejected map[types.RefName]error
}

// Pull fetches the remote's full ref namespace into a staging area
// under manifold/remote/*, validates manifold/head/<ws> refs, compares
// ancestry, integrates each ref, then deletes the staging refs.
//
// Objects are written directly to the primary object store as they're
// fetched, not to a separate staging store: the object store is
// write-once and content-addressed, so storing an object early is
// harmless even if its owning ref is later rejected (spec.md §5). Only
// refs need the staging indirection, since a ref can move.
func Pull(ctx context.Context, objs objstore.Store, refs refstore.Store, remote RemoteStore, broker *events.Broker) (PullResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TransportPullDuration)

	remoteRefs, err := remote.ListRefs(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("transport: pull: list remote refs: %w", err)
	}

	result := PullResult{Outcomes: map[types.RefName]Relation{}, Rejected: map[types.RefName]error{}}

	for name, remoteOid := range remoteRefs {
		if err := fetchObjectTree(ctx, objs, remote, remoteOid); err != nil {
			result.Rejected[name] = err
			metrics.TransportRejectionsTotal.Inc()
			log.WithComponent("transport").Warn().Err(err).Str("ref", string(name)).Msg("pull: failed to fetch object closure")
			continue
		}
		if err := refs.Write(StagingRef(name), remoteOid); err != nil {
			return result, fmt.Errorf("transport: pull: stage %s: %w", name, err)
		}
	}

	for name, remoteOid := range remoteRefs {
		if _, rejected := result.Rejected[name]; rejected {
			continue
		}

		if refCategory(name) == categoryHead {
			if _, err := ValidateFetchedOperation(objs, remoteOid); err != nil {
				result.Rejected[name] = err
				metrics.TransportRejectionsTotal.Inc()
				log.WithComponent("transport").Warn().Err(err).Str("ref", string(name)).Msg("pull: ref rejected by security validation")
				continue
			}
		}

		outcome, err := integrateRef(objs, refs, name, remoteOid)
		if err != nil {
			result.Rejected[name] = err
			continue
		}
		result.Outcomes[name] = outcome
		metrics.TransportIntegrationsTotal.WithLabelValues(string(outcome)).Inc()
		if outcome == RelationDiverged {
			publish(broker, events.EventTransportDiverged, name)
		}
	}

	if err := cleanupStaging(refs, remoteRefs); err != nil {
		return result, fmt.Errorf("transport: pull: cleanup staging: %w", err)
	}

	publish(broker, events.EventTransportPulled, types.RefName("*"))
	log.WithComponent("transport").Info().
		Int("refs", len(remoteRefs)).
		Int("rejected", len(result.Rejected)).
		Msg("pull complete")
	return result, nil
}

// cleanupStaging deletes every manifold/remote/* staging ref created by
// this pull, regardless of whether its owning ref was integrated or
// rejected (spec.md §4.6: staging refs never survive a completed pull).
func cleanupStaging(refs refstore.Store, remoteRefs map[types.RefName]types.ObjectId) error {
	for name := range remoteRefs {
		staging := StagingRef(name)
		oid, ok, err := refs.Read(staging)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := refs.CAS(staging, oid, types.ZeroObjectId); err != nil && !errors.Is(err, types.ErrCasMismatch) {
			return err
		}
	}
	return nil
}
