package towers

import "strings"

// Carrier identifiers.
const (
	CarrierTelstra  = "telstra"
	CarrierOptus    = "optus"
	CarrierVodafone = "vodafone"
	CarrierOther    = "other"
)

// Technology identifiers.
const (
	Tech5G = "5g"
	Tech4G = "4g"
	Tech3G = "3g"
)

type carrierRule struct {
	name      string
	clientIDs []string
	patterns  []string
}

// carrierRules is ordered; the first match wins.
var carrierRules = []carrierRule{
	{CarrierTelstra, []string{"1104504", "20053843", "20006709"}, []string{"telstra", "amplitel", "tcl"}},
	{CarrierOptus, []string{"1561", "510769", "512112"}, []string{"optus", "singtel"}},
	{CarrierVodafone, []string{"536353", "1103274", "1133304", "1136980"}, []string{"vodafone", "tpg", "hutchison", "vha"}},
}

type freqRange struct{ min, max float64 }

type techRule struct {
	name      string
	ranges    []freqRange // MHz, inclusive
	emissions []string
	patterns  []string
}

// techRules is ordered; 5G rules are checked before 4G and 3G at every stage.
var techRules = []techRule{
	{
		name:      Tech5G,
		ranges:    []freqRange{{3300, 3800}, {24000, 30000}, {700, 800}},
		emissions: []string{"9M86G7W", "G7W"},
		patterns:  []string{"5g", "amplitel monopole", "mmwave"},
	},
	{
		name:      Tech4G,
		ranges:    []freqRange{{700, 900}, {1800, 2100}, {2300, 2600}},
		emissions: []string{"5M00G7W", "10M0G7W", "15M0G7W", "20M0G7W"},
		patterns:  []string{"4g", "lte", "b28"},
	},
	{
		name:      Tech3G,
		ranges:    []freqRange{{850, 950}, {1800, 2200}},
		emissions: []string{"5M00F9W", "F9W"},
		patterns:  []string{"3g", "umts", "hspa", "wcdma"},
	},
}

// DetermineCarrier classifies a licence holder. Known client numbers take
// precedence over name patterns.
func DetermineCarrier(clientID, name string) string {
	for _, r := range carrierRules {
		for _, id := range r.clientIDs {
			if clientID == id {
				return r.name
			}
		}
	}
	lower := strings.ToLower(name)
	for _, r := range carrierRules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.name
			}
		}
	}
	return CarrierOther
}

// isCarrierName reports whether a licensee name matches any carrier pattern.
func isCarrierName(name string) bool {
	lower := strings.ToLower(name)
	for _, r := range carrierRules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

// DetermineTechnology classifies a device by site name, then emission
// designator, then frequency (Hz). Unclassified devices default to 4G.
func DetermineTechnology(frequencyHz int64, emission, siteName string) string {
	lower := strings.ToLower(siteName)
	for _, r := range techRules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.name
			}
		}
	}

	if emission != "" {
		for _, r := range techRules {
			for _, e := range r.emissions {
				if strings.Contains(emission, e) {
					return r.name
				}
			}
		}
	}

	if mhz := float64(frequencyHz) / 1e6; mhz > 0 {
		for _, r := range techRules {
			for _, fr := range r.ranges {
				if mhz >= fr.min && mhz <= fr.max {
					return r.name
				}
			}
		}
	}

	return Tech4G
}
