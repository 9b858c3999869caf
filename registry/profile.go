package registry

import "fmt"

// Profile is the per-site overlay on the gate thresholds. Therapy
// facilities hold temperature tighter; the rule set itself is the same
// everywhere.
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileTherapy  Profile = "therapy"
)

// TempDeviationFactor scales the rule-4 temperature deviation
// threshold for the site.
func (p Profile) TempDeviationFactor() float64 {
	if p == ProfileTherapy {
		return 0.75
	}
	return 1.0
}

// ParseProfile validates a configured profile name.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileStandard, ProfileTherapy:
		return Profile(s), nil
	case "":
		return ProfileStandard, nil
	}
	return "", fmt.Errorf("unknown site profile %q", s)
}
