package models

// BaseModels returns the upstream base models served by the pool.
func BaseModels() []string {
	return []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-image",
		"gemini-3-pro-preview",
	}
}

var knownBases = func() map[string]bool {
	m := map[string]bool{}
	for _, b := range BaseModels() {
		m[b] = true
	}
	return m
}()

// IsKnown reports whether the parsed base model is served.
func IsKnown(name string) bool {
	return knownBases[Parse(name).Base]
}

// Catalog enumerates every base x mode-prefix x suffix combination, for
// clients that want a static model list.
func Catalog() []string {
	return CatalogFor(true)
}

// CatalogFor optionally withholds the tier-3 bases; listings only advertise
// them to users who can actually be served.
func CatalogFor(includeTier3 bool) []string {
	prefixes := []string{"", prefixFakeStream, prefixAntiTrunc}
	suffixes := []string{
		"",
		"-maxthinking", "-nothinking", "-search",
		"-maxthinking-search", "-nothinking-search",
	}

	out := make([]string, 0, len(knownBases)*len(prefixes)*len(suffixes))
	for _, base := range BaseModels() {
		if !includeTier3 && (Variant{Base: base}).RequiredTier() == "3" {
			continue
		}
		for _, p := range prefixes {
			for _, s := range suffixes {
				out = append(out, p+base+s)
			}
		}
	}
	return out
}
