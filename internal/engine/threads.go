package engine

import (
	"context"

	"sweeper/internal/twitter"
)

// parentLink caches one resolved step of a reply chain: the tweet's parent,
// or nil when the tweet is a conversation root.
type parentLink struct {
	parent *string
}

// Resolver reconstructs conversation roots by walking reply chains upward.
// Lookups are memoized for the life of the resolver, which spans one fetch
// run, so a long thread costs one API call per distinct ancestor.
type Resolver struct {
	fetch func(ctx context.Context, id string) (*twitter.Tweet, error)
	memo  map[string]parentLink
}

// NewResolver creates a Resolver. fetch loads a single status; it is
// expected to already carry the engine's retry policy.
func NewResolver(fetch func(ctx context.Context, id string) (*twitter.Tweet, error)) *Resolver {
	return &Resolver{
		fetch: fetch,
		memo:  make(map[string]parentLink),
	}
}

// Seed records a tweet's parent link without an API call. The import loop
// seeds every timeline status it already holds so resolving that status
// never re-fetches it.
func (r *Resolver) Seed(id string, parent *string) {
	r.memo[id] = parentLink{parent: parent}
}

// Root returns the conversation root for the given status id. When an
// ancestor cannot be fetched (deleted, suspended author, protected account)
// the last resolvable id becomes the root: a partial chain still groups the
// reachable part of the conversation.
func (r *Resolver) Root(ctx context.Context, id string) (string, error) {
	cur := id
	last := id
	visited := map[string]struct{}{cur: {}}

	for {
		link, ok := r.memo[cur]
		if !ok {
			t, err := r.fetch(ctx, cur)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				// Unresolvable ancestor: the chain ends at the last id we
				// could actually load.
				return last, nil
			}
			link = parentLink{parent: t.InReplyToID}
			r.memo[cur] = link
		}
		last = cur

		if link.parent == nil {
			return cur, nil
		}

		next := *link.parent
		if _, seen := visited[next]; seen {
			// Malformed chain loops back on itself; stop here.
			return cur, nil
		}
		visited[next] = struct{}{}
		cur = next
	}
}
