package security

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

// Profile names a strictness level, from plan_only (strictest) down to
// elevated. Each stricter profile keeps every pattern of the weaker ones and
// adds its own.
type Profile string

const (
	ProfilePlanOnly   Profile = "plan_only"
	ProfileRestricted Profile = "restricted"
	ProfileStandard   Profile = "standard"
	ProfileElevated   Profile = "elevated"
)

func (p Profile) String() string {
	return string(p)
}

// ParseProfile maps a profile name to a Profile, defaulting unknown names to
// standard strictness.
func ParseProfile(name string) Profile {
	switch Profile(name) {
	case ProfilePlanOnly, ProfileRestricted, ProfileStandard, ProfileElevated:
		return Profile(name)
	default:
		return ProfileStandard
	}
}

// MaxInputLength is the profile-dependent input size ceiling; oversized input
// is rejected regardless of content.
func (p Profile) MaxInputLength() int {
	switch p {
	case ProfileElevated:
		return 50000
	case ProfileStandard:
		return 10000
	case ProfileRestricted:
		return 5000
	case ProfilePlanOnly:
		return 2000
	default:
		return 10000
	}
}

// MaxConcurrentExecutions is the resource-manager allocation ceiling.
func (p Profile) MaxConcurrentExecutions() int {
	switch p {
	case ProfilePlanOnly:
		return 10
	case ProfileRestricted:
		return 25
	case ProfileStandard:
		return 50
	case ProfileElevated:
		return 100
	default:
		return 50
	}
}

// AllowExecution reports whether the profile permits running steps at all.
// plan_only validates and plans but refuses execution.
func (p Profile) AllowExecution() bool {
	return p != ProfilePlanOnly
}
