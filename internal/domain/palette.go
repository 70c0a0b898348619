package domain

// RegionPalette is assigned to regions in insertion order.
var RegionPalette = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12", "#9b59b6",
	"#1abc9c", "#34495e", "#e67e22", "#95a5a6", "#f1c40f",
}

const (
	// IndependentColor marks clusters that have no region.
	IndependentColor = "#6c757d"
	// IsolatedColor marks households with neither region nor cluster.
	IsolatedColor = "#95a5a6"
)
