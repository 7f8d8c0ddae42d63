package models

// Theme is a selectable cosmetic configuration for a conversation. The
// catalog is fixed; clients pick by id.
type Theme struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultTheme is assigned to every new conversation.
const DefaultTheme = "default"

var themeCatalog = []Theme{
	{ID: "default", Name: "Classic Blue"},
	{ID: "emerald", Name: "Nature Fresh"},
	{ID: "rose", Name: "Sweet Rose"},
	{ID: "ocean", Name: "Ocean Breeze"},
	{ID: "purple", Name: "Royal Violet"},
	{ID: "sunset", Name: "Warm Sunset"},
	{ID: "mint", Name: "Cool Mint"},
}

// Themes returns the full theme catalog.
func Themes() []Theme {
	out := make([]Theme, len(themeCatalog))
	copy(out, themeCatalog)
	return out
}

// ThemeByID looks up a theme in the catalog.
func ThemeByID(id string) (Theme, bool) {
	for _, t := range themeCatalog {
		if t.ID == id {
			return t, true
		}
	}
	return Theme{}, false
}

// ValidTheme reports whether id names a catalog theme.
func ValidTheme(id string) bool {
	_, ok := ThemeByID(id)
	return ok
}
