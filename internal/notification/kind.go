package notification

import "strings"

// Kind is the closed set of notification types the relay renders differently.
type Kind int

const (
	KindUnknown Kind = iota
	KindVersionStateUpdated
	KindAppVersionStateUpdated
	KindBuildStateUpdated
	KindFeedback
)

// Wire names of the known types.
const (
	TypeVersionStateUpdated    = "APP_STORE_VERSION_STATE_UPDATED"
	TypeAppVersionStateUpdated = "appStoreVersionAppVersionStateUpdated"
	TypeBuildStateUpdated      = "BUILD_STATE_UPDATED"
)

// KindOf classifies a notification type string. Exact names are matched first;
// any type mentioning FEEDBACK, in any case, is feedback.
func KindOf(typ string) Kind {
	switch typ {
	case TypeVersionStateUpdated:
		return KindVersionStateUpdated
	case TypeAppVersionStateUpdated:
		return KindAppVersionStateUpdated
	case TypeBuildStateUpdated:
		return KindBuildStateUpdated
	}
	if strings.Contains(strings.ToUpper(typ), "FEEDBACK") {
		return KindFeedback
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindVersionStateUpdated:
		return "version_state_updated"
	case KindAppVersionStateUpdated:
		return "app_version_state_updated"
	case KindBuildStateUpdated:
		return "build_state_updated"
	case KindFeedback:
		return "feedback"
	default:
		return "unknown"
	}
}
