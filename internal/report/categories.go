package report

import "strings"

// CategoryMap maps module-name prefixes to human-readable categories; used
// when no LLM overlay is available for a cluster.
type CategoryMap struct {
	prefixes []categoryPrefix
}

type categoryPrefix struct {
	Prefix   string
	Category string
}

// DefaultCategories covers the common CTS/VTS module families.
func DefaultCategories() *CategoryMap {
	return CategoriesWithOverrides(nil)
}

// CategoriesWithOverrides layers operator-supplied prefixes from the suite
// config file over the built-in set.
func CategoriesWithOverrides(overrides map[string]string) *CategoryMap {
	merged := map[string]string{
		"CtsMedia":         "Multimedia",
		"CtsCamera":        "Camera",
		"CtsNet":           "Networking",
		"CtsWifi":          "Networking",
		"CtsBluetooth":     "Connectivity",
		"CtsTelephony":     "Telephony",
		"CtsGraphics":      "Graphics",
		"CtsDeqp":          "Graphics",
		"CtsOpenG":         "Graphics",
		"CtsSecurity":      "Security",
		"CtsKeystore":      "Security",
		"CtsPermission":    "Permissions",
		"CtsLocation":      "Location",
		"CtsSensor":        "Sensors",
		"CtsUsb":           "Peripherals",
		"CtsAudio":         "Audio",
		"CtsView":          "UI",
		"CtsWidget":        "UI",
		"CtsWindowManager": "UI",
		"VtsHal":           "Vendor HAL",
		"VtsKernel":        "Kernel",
	}
	for p, c := range overrides {
		merged[p] = c
	}
	return NewCategoryMap(merged)
}

func NewCategoryMap(prefixes map[string]string) *CategoryMap {
	m := &CategoryMap{}
	for p, c := range prefixes {
		m.prefixes = append(m.prefixes, categoryPrefix{Prefix: p, Category: c})
	}
	// Longest prefix wins, so CtsWindowManager beats a hypothetical CtsWindow.
	for i := 1; i < len(m.prefixes); i++ {
		for j := i; j > 0 && len(m.prefixes[j].Prefix) > len(m.prefixes[j-1].Prefix); j-- {
			m.prefixes[j], m.prefixes[j-1] = m.prefixes[j-1], m.prefixes[j]
		}
	}
	return m
}

// Lookup returns the category for a module name, or "Other".
func (m *CategoryMap) Lookup(moduleName string) string {
	if m != nil {
		for _, p := range m.prefixes {
			if strings.HasPrefix(moduleName, p.Prefix) {
				return p.Category
			}
		}
	}
	return "Other"
}
