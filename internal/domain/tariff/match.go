package tariff

import "strings"

// NormalizeICD10 upper-cases a diagnosis code and strips dots and spaces so
// "o80.1" and "O801" compare equal.
func NormalizeICD10(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer(".", "", " ", "").Replace(code)
}

// MatchBundle picks the active bundle for a principal diagnosis. An exact
// code match wins; otherwise the bundle whose code is the longest prefix of
// the diagnosis. Ties go to the lowest bundle id. Returns nil when nothing
// matches.
func MatchBundle(diagnosis string, bundles []*ServiceBundle) *ServiceBundle {
	dx := NormalizeICD10(diagnosis)
	if dx == "" {
		return nil
	}

	var best *ServiceBundle
	bestLen := 0
	for _, b := range bundles {
		if !b.IsActive {
			continue
		}
		code := NormalizeICD10(b.DiagnosisICD10)
		if code == "" || !strings.HasPrefix(dx, code) {
			continue
		}
		switch {
		case best == nil, len(code) > bestLen:
			best, bestLen = b, len(code)
		case len(code) == bestLen && b.ID < best.ID:
			best = b
		}
	}
	return best
}
