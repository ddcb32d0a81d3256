// internal/grocery/grocery.go
package grocery

import (
	"math"
	"strconv"
	"strings"
)

// Ingredient is one line of a recipe.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Recipe   string  `json:"recipe"`
}

// AggregatedIngredient is one line of a shopping list.
type AggregatedIngredient struct {
	Name     string   `json:"name"`
	Quantity float64  `json:"quantity"`
	Unit     string   `json:"unit"`
	Category Category `json:"category"`
	Recipes  []string `json:"recipes"`
}

type groupKey struct {
	name     string
	category Category
}

// Aggregate merges ingredients that share a normalized name and a unit
// category. Quantities are converted into the unit first seen for the group.
// Recipes are listed in arrival order, duplicates included. Ingredients whose
// units cannot be converted into each other stay separate. Output follows
// the order in which each group first appeared.
func Aggregate(items []Ingredient) []AggregatedIngredient {
	out := []AggregatedIngredient{}
	index := make(map[groupKey]int)
	factors := make([]float64, 0, len(items))

	for _, item := range items {
		name := NormalizeName(item.Name)
		unit := lookupUnit(item.Unit)
		key := groupKey{name: name, category: unit.category}

		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, AggregatedIngredient{
				Name:     name,
				Unit:     unit.canonical,
				Category: unit.category,
				Recipes:  []string{},
			})
			factors = append(factors, unit.factor)
		}
		out[i].Quantity += item.Quantity * unit.factor / factors[i]
		out[i].Recipes = append(out[i].Recipes, item.Recipe)
	}
	return out
}

// NormalizeName trims, lower-cases and collapses whitespace, then singularises
// the last word.
func NormalizeName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return ""
	}
	last := len(words) - 1
	words[last] = singular(words[last])
	return strings.Join(words, " ")
}

// singular handles the plural forms common in ingredient lists. Words it
// does not recognize are returned unchanged.
func singular(w string) string {
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

// FormatQuantity renders q rounded to two decimals without trailing zeros.
func FormatQuantity(q float64) string {
	rounded := math.Round(q*100) / 100
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// String renders the line as it appears on a shopping list.
func (a AggregatedIngredient) String() string {
	if a.Unit == "" {
		return FormatQuantity(a.Quantity) + " " + a.Name
	}
	return FormatQuantity(a.Quantity) + " " + a.Unit + " " + a.Name
}
