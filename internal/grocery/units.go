// internal/grocery/units.go
package grocery

import "strings"

// Category groups units that convert into each other.
type Category string

const (
	CategoryWeight Category = "weight"
	CategoryVolume Category = "volume"
	CategoryCount  Category = "count"
)

type unitInfo struct {
	canonical string
	category  Category
	// factor converts one unit into the base unit of its category: grams,
	// millilitres or pieces.
	factor float64
}

var units = map[string]unitInfo{}

func register(canonical string, category Category, factor float64, aliases ...string) {
	info := unitInfo{canonical: canonical, category: category, factor: factor}
	units[canonical] = info
	for _, a := range aliases {
		units[a] = info
	}
}

func init() {
	register("g", CategoryWeight, 1, "gram", "grams", "gr", "gm")
	register("kg", CategoryWeight, 1000, "kilogram", "kilograms", "kgs", "kilo", "kilos")
	register("mg", CategoryWeight, 0.001, "milligram", "milligrams")
	register("oz", CategoryWeight, 28.349523125, "ounce", "ounces")
	register("lb", CategoryWeight, 453.59237, "lbs", "pound", "pounds")

	register("ml", CategoryVolume, 1, "millilitre", "millilitres", "milliliter", "milliliters", "mls")
	register("l", CategoryVolume, 1000, "litre", "litres", "liter", "liters")
	register("tsp", CategoryVolume, 4.92892, "teaspoon", "teaspoons", "tsps")
	register("tbsp", CategoryVolume, 14.7868, "tablespoon", "tablespoons", "tbsps", "tbs")
	register("fl oz", CategoryVolume, 29.5735, "fluid ounce", "fluid ounces", "floz")
	register("cup", CategoryVolume, 236.588, "cups", "c")
	register("pint", CategoryVolume, 473.176, "pints", "pt")
	register("quart", CategoryVolume, 946.353, "quarts", "qt")
	register("gallon", CategoryVolume, 3785.41, "gallons", "gal")

	register("", CategoryCount, 1, "piece", "pieces", "pc", "pcs", "whole", "each", "ea", "unit", "units", "x")
}

// lookupUnit returns the unit's conversion data. Unknown units form their own
// category, "other:<unit>", and only merge with the same unit.
func lookupUnit(unit string) unitInfo {
	u := strings.Join(strings.Fields(strings.ToLower(unit)), " ")
	u = strings.TrimSuffix(u, ".")
	if info, ok := units[u]; ok {
		return info
	}
	return unitInfo{canonical: u, category: Category("other:" + u), factor: 1}
}

// UnitCategory reports the category a unit belongs to.
func UnitCategory(unit string) Category {
	return lookupUnit(unit).category
}
