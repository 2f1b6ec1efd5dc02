package knowledge

import (
	"context"
	"sort"
	"time"

	"github.com/hrygo/mnemos/memory"
)

// Clusterer groups entities into communities. Implementations must be
// deterministic for a given graph snapshot so repeated rebuilds agree.
type Clusterer interface {
	Cluster(entities []*memory.Entity, relationships []*memory.Relationship) []*memory.Community
}

// noopClusterer is the default strategy: no community detection algorithm
// is assumed, so every rebuild yields an empty set. Deployments plug in a
// real algorithm through SetClusterer.
type noopClusterer struct{}

func (noopClusterer) Cluster([]*memory.Entity, []*memory.Relationship) []*memory.Community {
	return nil
}

// BuildCommunities recomputes the user's communities from the current graph
// and replaces the stored set. Concurrent rebuilds for the same user are
// collapsed into one run.
func (p *Provider) BuildCommunities(ctx context.Context, userID string) (out []*memory.Community, err error) {
	start := time.Now()
	defer func() { p.observe("build_communities", start, err) }()
	if err = p.Guard(); err != nil {
		return nil, err
	}

	res, err, _ := p.rebuilds.Do(userID, func() (any, error) {
		var (
			entities      []*memory.Entity
			relationships []*memory.Relationship
		)
		p.users.View(userID, func(g *userGraph, ok bool) {
			if !ok {
				return
			}
			for _, e := range g.entities {
				entities = append(entities, cloneEntity(e))
			}
			for _, r := range g.relationships {
				relationships = append(relationships, cloneRelationship(r))
			}
		})
		sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
		sort.Slice(relationships, func(i, j int) bool { return relationships[i].ID < relationships[j].ID })

		communities := p.clusterer.Cluster(entities, relationships)
		if communities == nil {
			communities = []*memory.Community{}
		}

		p.users.Mutate(userID, func(g *userGraph) {
			g.communities = communities
		})
		return communities, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneCommunities(res.([]*memory.Community)), nil
}

// GetCommunities returns the communities from the last rebuild. Users with
// no rebuild yet get an empty set.
func (p *Provider) GetCommunities(ctx context.Context, userID string) ([]*memory.Community, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	var out []*memory.Community
	p.users.View(userID, func(g *userGraph, ok bool) {
		if !ok {
			return
		}
		out = cloneCommunities(g.communities)
	})
	if out == nil {
		out = []*memory.Community{}
	}
	return out, nil
}

func cloneCommunities(communities []*memory.Community) []*memory.Community {
	out := make([]*memory.Community, 0, len(communities))
	for _, c := range communities {
		clone := *c
		clone.EntityIDs = append([]string(nil), c.EntityIDs...)
		out = append(out, &clone)
	}
	return out
}
