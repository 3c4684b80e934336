package registry

import (
	"cmp"
	"slices"
)

// FindNearby lists users that are probably on the same network as the
// requester: same locality class and same grouping prefix. The requester and
// users already in a flight are excluded. The match is a heuristic and the
// result is sorted by id.
func (r *Registry) FindNearby(requesterID string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	me, ok := r.users[requesterID]
	if !ok || me.ident.Prefix == "" {
		return []Peer{}
	}

	out := []Peer{}
	for id, u := range r.users {
		if id == requesterID || u.flight != "" {
			continue
		}
		if u.ident.Private != me.ident.Private || u.ident.Prefix != me.ident.Prefix {
			continue
		}
		out = append(out, Peer{ID: u.id, Name: u.name})
	}
	slices.SortFunc(out, func(a, b Peer) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
