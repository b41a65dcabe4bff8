package hierarchy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pbaille/scopes/internal/domain"
)

// Subtree is a node with the children loaded below it
type Subtree struct {
	Node     domain.Node
	Children []*Subtree
	Err      error
}

// Prefetch loads up to depth levels below the roots, one level at a time,
// with at most workers requests in flight. A failed branch keeps its error
// on its Subtree and does not stop its siblings. Returns ctx.Err() if the
// walk was cancelled.
func (c *Client) Prefetch(ctx context.Context, roots []domain.Node, depth, workers int) ([]*Subtree, error) {
	if workers <= 0 {
		workers = 4
	}

	out := make([]*Subtree, 0, len(roots))
	for _, r := range roots {
		out = append(out, &Subtree{Node: r})
	}

	frontier := out
	for d := 0; d < depth && len(frontier) > 0; d++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, st := range frontier {
			next, ok := st.Node.Level.Next()
			if !ok {
				continue
			}
			g.Go(func() error {
				children, err := c.Children(gctx, next, st.Node.ID)
				if err != nil {
					st.Err = err
					return nil
				}
				st.Children = make([]*Subtree, 0, len(children))
				for _, child := range children {
					st.Children = append(st.Children, &Subtree{Node: child})
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var nextFrontier []*Subtree
		for _, st := range frontier {
			nextFrontier = append(nextFrontier, st.Children...)
		}
		frontier = nextFrontier
	}
	return out, nil
}
