package gate

import (
	"fmt"
	"strings"
)

// Profile is the immutable scoring configuration a gate instance runs
// with. Profiles are constructed once at startup, never re-read per call.
type Profile struct {
	Name             string
	MinConfidence    float64
	RequiredFields   []string
	MinPromotionRate float64
}

var (
	ProfileStrict = Profile{
		Name:             "strict",
		MinConfidence:    0.85,
		RequiredFields:   []string{"name", "type", "definition"},
		MinPromotionRate: 0.50,
	}
	ProfileBalanced = Profile{
		Name:             "balanced",
		MinConfidence:    0.70,
		RequiredFields:   []string{"name", "type"},
		MinPromotionRate: 0.30,
	}
	ProfilePermissive = Profile{
		Name:             "permissive",
		MinConfidence:    0.60,
		RequiredFields:   []string{"name"},
		MinPromotionRate: 0.20,
	}
)

func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "strict":
		return ProfileStrict, nil
	case "balanced", "":
		return ProfileBalanced, nil
	case "permissive":
		return ProfilePermissive, nil
	default:
		return Profile{}, fmt.Errorf("unknown gate profile %q", name)
	}
}
