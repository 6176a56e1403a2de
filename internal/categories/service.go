// Package categories loads the category chart that derived records refer to.
package categories

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cleared-dev/splitledger/internal/model"
)

// chartFile is the chart location relative to the project root.
const chartFile = "categories/chart.csv"

// Service provides in-memory lookup over the category chart.
type Service struct {
	cats []model.Category
	byID map[string]model.Category
}

// NewService creates a Service from a slice of categories.
func NewService(cats []model.Category) *Service {
	byID := make(map[string]model.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}
	return &Service{cats: cats, byID: byID}
}

// Load reads categories/chart.csv from a project root.
func Load(root string) (*Service, error) {
	f, err := os.Open(filepath.Join(root, chartFile))
	if err != nil {
		return nil, fmt.Errorf("opening category chart: %w", err)
	}
	defer f.Close()

	cats, err := ReadCategories(f)
	if err != nil {
		return nil, fmt.Errorf("reading category chart: %w", err)
	}
	return NewService(cats), nil
}

// All returns all categories.
func (s *Service) All() []model.Category {
	return s.cats
}

// Get returns a category by ID.
func (s *Service) Get(id string) (model.Category, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Exists reports whether a category ID exists.
func (s *Service) Exists(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Children returns the direct children of parentID.
func (s *Service) Children(parentID string) []model.Category {
	var result []model.Category
	for _, c := range s.cats {
		if c.ParentID == parentID {
			result = append(result, c)
		}
	}
	return result
}

// Save writes the chart to categories/chart.csv under root.
func (s *Service) Save(root string) error {
	path := filepath.Join(root, chartFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating categories dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating category chart file: %w", err)
	}
	defer f.Close()

	if err := WriteCategories(f, s.cats); err != nil {
		return fmt.Errorf("writing category chart: %w", err)
	}
	return nil
}
