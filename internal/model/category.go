package model

// Category is a row in the category chart. ParentID is empty for top-level.
type Category struct {
	ID          string
	Name        string
	ParentID    string
	Description string
}
