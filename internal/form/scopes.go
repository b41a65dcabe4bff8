package form

import (
	"context"
	"fmt"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/selection"
)

// PathFetcher resolves the chain of scopes from a textbook down to id
type PathFetcher interface {
	Breadcrumbs(ctx context.Context, id string) ([]domain.Node, error)
}

// AddScope loads the ancestors of ref into sel and selects it. A scope that
// overlaps the current selection is refused instead of evicting anything.
func AddScope(ctx context.Context, sel *selection.Model, pf PathFetcher, ref domain.Ref) error {
	path, err := pf.Breadcrumbs(ctx, ref.ID)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return fmt.Errorf("scope %s: empty path", ref)
	}
	last := path[len(path)-1]
	if last.Ref() != ref {
		return fmt.Errorf("scope %s is a %s", ref.ID, last.Level.Label())
	}

	sel.Register(path[0])
	for i := 1; i < len(path); i++ {
		sel.Observe(path[i-1].Ref(), path[i:i+1])
	}

	for _, a := range sel.Ancestors(ref) {
		if sel.IsSelected(a) {
			return fmt.Errorf("%s is already covered by %s", ref, a)
		}
	}
	if sel.IsSelected(ref) {
		return nil
	}
	for _, d := range sel.Descendants(ref) {
		if sel.IsSelected(d) {
			return fmt.Errorf("%s covers the selected %s", ref, d)
		}
	}
	sel.Select(last)
	return nil
}
