package extractor

// Config carries the ordered pattern families applied to normalized text.
// Patterns are data, not code: deployments can swap tables at construction
// without rebuilding. Within a family the first pattern whose captures pass
// the plausibility filter wins; later patterns are never consulted.
type Config struct {
	// Temperature patterns capture two numbers (min, max) framed by a
	// temperature-range phrasing.
	Temperature []string
	// Water patterns capture one number framed by a per-day or irrigation
	// phrasing.
	Water []string
	// Sunlight patterns capture one number framed by sun/light/daylight
	// phrasing.
	Sunlight []string
	// PH patterns capture two numbers framed by a pH-range phrasing.
	PH []string
}

// DefaultConfig returns the pattern tables tuned for FAO-style crop profiles.
// Expressions assume the text has been through textnorm (lowercased prose,
// expanded abbreviations, collapsed whitespace) but stay case-insensitive so
// they also work on raw input.
func DefaultConfig() Config {
	return Config{
		Temperature: []string{
			`(?i)(?:temperature|temp)[^\d]*(\d+)[°\s]*c[^\d]*(?:to|and|-)[^\d]*(\d+)[°\s]*c`,
			`(?i)(\d+)\s*°?c\s*(?:to|-)\s*(\d+)\s*°?c`,
			`(?i)optimal.*?(\d+)[°\s]*c.*?(?:to|and|-).*?(\d+)[°\s]*c`,
			`(?i)grow.*?between.*?(\d+)[°\s]*c.*?and.*?(\d+)[°\s]*c`,
		},
		Water: []string{
			`(?i)(\d+\.?\d*)\s*(?:mm|millimeters?)\s*(?:per|/)\s*(?:day|d)`,
			`(?i)water.*?(\d+\.?\d*)\s*(?:mm|millimeters?)`,
			`(?i)irrigation.*?(\d+\.?\d*)\s*(?:mm|l)`,
			`(?i)requires?\s+(\d+\.?\d*)\s*(?:mm|cm)\s*(?:of\s+)?water`,
		},
		Sunlight: []string{
			`(?i)(\d+\.?\d*)\s*(?:hours?|hrs?|h)\s*(?:of\s+)?(?:sun|light|daylight)`,
			`(?i)sun.*?(\d+)[\s-]*(?:hours?|hrs?)`,
			`(?i)full\s+sun.*?(\d+)\s*(?:hours?|hrs?)`,
			`(?i)light.*?(\d+)\s*(?:hours?|hrs?)`,
		},
		PH: []string{
			`(?i)ph\s+(\d+\.?\d*)\s*(?:to|-)\s*(\d+\.?\d*)`,
			`(?i)ph.*?range.*?(\d+\.?\d*).*?(?:to|-).*?(\d+\.?\d*)`,
			`(?i)(?:acidic|alkaline).*?ph\s+(\d+\.?\d*)\s*(?:to|-)\s*(\d+\.?\d*)`,
		},
	}
}
