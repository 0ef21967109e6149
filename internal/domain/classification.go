package domain

// Category is a ticket routing category.
type Category string

const (
	CategoryTechnical Category = "Technical"
	CategoryBilling   Category = "Billing"
	CategoryLegal     Category = "Legal"
)

// Categories lists the categories known to the router.
var Categories = []Category{CategoryTechnical, CategoryBilling, CategoryLegal}

// ModelSource records which classifier produced a result.
type ModelSource string

const (
	ModelPrimary  ModelSource = "primary"
	ModelFallback ModelSource = "fallback"
)

// Classification is the abstract output of a classifier. Embedding may be nil.
type Classification struct {
	Category  Category
	Urgency   float64
	Embedding []float64
	Source    ModelSource
}
