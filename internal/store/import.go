package store

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ImportNode is one scope in an import file. Children nest one level
// deeper; problems attach to the scope itself.
type ImportNode struct {
	Title    string       `yaml:"title"`
	Hidden   bool         `yaml:"hidden"`
	Problems []string     `yaml:"problems"`
	Children []ImportNode `yaml:"children"`
}

// ImportFile is the top-level document: a list of textbooks
type ImportFile struct {
	Textbooks []ImportNode `yaml:"textbooks"`
}

// ImportStats counts what an import created
type ImportStats struct {
	Scopes   int
	Existing int
	Problems int
	Skipped  int
}

// Import reads a YAML hierarchy and stores it in a single transaction.
// Scopes that already exist under the same parent are reused and take the
// file's order and visibility. A problem already attached to its scope is
// skipped.
func (s *Store) Import(r io.Reader) (*ImportStats, error) {
	var f ImportFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode import: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stats := &ImportStats{}
	for i, tb := range f.Textbooks {
		if err := importNode(tx, tb, nil, i, stats); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

func importNode(q querier, n ImportNode, parentID *int64, order int, stats *ImportStats) error {
	sc, created, err := getOrCreateScope(q, n.Title, parentID, order)
	if err != nil {
		return fmt.Errorf("import %q: %w", n.Title, err)
	}
	if created {
		stats.Scopes++
	} else {
		stats.Existing++
	}
	if _, err := q.Exec(
		"UPDATE scopes SET is_published = ?, in_scope_order = ? WHERE id = ?",
		!n.Hidden, order, sc.ID,
	); err != nil {
		return fmt.Errorf("update %q: %w", n.Title, err)
	}

	for _, p := range n.Problems {
		exists, err := hasProblem(q, sc.ID, p)
		if err != nil {
			return fmt.Errorf("import %q: %w", n.Title, err)
		}
		if exists {
			stats.Skipped++
			continue
		}
		if _, err := addProblem(q, sc.ID, p); err != nil {
			return fmt.Errorf("import %q: %w", n.Title, err)
		}
		stats.Problems++
	}

	for i, child := range n.Children {
		if err := importNode(q, child, &sc.ID, i, stats); err != nil {
			return err
		}
	}
	return nil
}
