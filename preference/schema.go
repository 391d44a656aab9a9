package preference

// Categories group the attribute keys the enricher is allowed to extract.
// Keys outside this schema are dropped at validation time regardless of the
// confidence the model claims.
const (
	CategoryDietary       = "dietary"
	CategoryShopping      = "shopping"
	CategoryCommunication = "communication"
	CategoryPersonality   = "personality"
)

// attrSpec describes one extractable attribute.
type attrSpec struct {
	Category string
	Values   []string // empty means free text
	Weight   float64  // completeness contribution
	Required bool
}

// schema is the full attribute catalogue. Weights are disclosed in the
// profile API: completeness is the weighted share of filled confirmed keys,
// scaled to [0,100].
var schema = map[string]attrSpec{
	"veg_pref":    {Category: CategoryDietary, Values: []string{"veg", "nonveg", "vegan", "jain", "eggetarian"}, Weight: 3, Required: true},
	"spice_level": {Category: CategoryDietary, Values: []string{"low", "medium", "high"}, Weight: 2},
	"allergies":   {Category: CategoryDietary, Weight: 2},

	"budget_tier":          {Category: CategoryShopping, Values: []string{"budget", "mid", "premium"}, Weight: 2, Required: true},
	"preferred_categories": {Category: CategoryShopping, Weight: 1},
	"brand_affinity":       {Category: CategoryShopping, Weight: 1},

	"language":       {Category: CategoryCommunication, Values: []string{"hi", "en", "hinglish"}, Weight: 3, Required: true},
	"message_style":  {Category: CategoryCommunication, Values: []string{"brief", "detailed"}, Weight: 1},
	"preferred_time": {Category: CategoryCommunication, Values: []string{"morning", "afternoon", "evening", "night"}, Weight: 1},

	"tone":         {Category: CategoryPersonality, Values: []string{"formal", "casual"}, Weight: 1},
	"decisiveness": {Category: CategoryPersonality, Values: []string{"quick", "deliberate"}, Weight: 1},
}

var totalWeight = func() float64 {
	var sum float64
	for _, spec := range schema {
		sum += spec.Weight
	}
	return sum
}()

// validItem reports whether the key exists and the value is allowed.
func validItem(key, value string) bool {
	spec, ok := schema[key]
	if !ok || value == "" {
		return false
	}
	if len(spec.Values) == 0 {
		return true
	}
	for _, v := range spec.Values {
		if v == value {
			return true
		}
	}
	return false
}

// Completeness computes profile completeness from confirmed attributes,
// deterministic in the set of filled keys.
func Completeness(attrs map[string]Attr) float64 {
	if totalWeight == 0 {
		return 0
	}
	var filled float64
	for key, attr := range attrs {
		spec, ok := schema[key]
		if !ok || attr.Status != StatusConfirmed {
			continue
		}
		filled += spec.Weight
	}
	return filled / totalWeight * 100
}
