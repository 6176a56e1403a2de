package categories

import "github.com/cleared-dev/splitledger/internal/model"

// DefaultChart returns the starter category chart for a household ledger.
func DefaultChart() []model.Category {
	return []model.Category{
		{ID: "household", Name: "Household", Description: "Home and household goods"},
		{ID: "household.cleaning", Name: "Cleaning Supplies", ParentID: "household"},
		{ID: "household.kitchen", Name: "Kitchen", ParentID: "household"},
		{ID: "groceries", Name: "Groceries"},
		{ID: "electronics", Name: "Electronics", Description: "Devices, cables and accessories"},
		{ID: "books", Name: "Books & Media"},
		{ID: "clothing", Name: "Clothing"},
		{ID: "health", Name: "Health & Personal Care"},
		{ID: "gifts", Name: "Gifts"},
		{ID: "shipping", Name: "Shipping & Fees"},
		{ID: "uncategorized", Name: "Uncategorized", Description: "Reviewed but not classifiable"},
	}
}
