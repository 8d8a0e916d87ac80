package interfaces

import "earshot/pkg/types"

// SessionNavigator is the host UI surface the notification resolver
// drives. Both calls must be cheap; any real screen work happens on the
// host's own UI machinery.
type SessionNavigator interface {
	// ShowSession navigates to the session screen for the given handle.
	// Called at most once per resolved invitation.
	ShowSession(handle types.SessionHandle, intent types.PendingNotificationIntent)

	// PromptJoin presents the join confirmation for an invitation the
	// user has already been navigated to. The host reports the outcome
	// back through the resolver.
	PromptJoin(intent types.PendingNotificationIntent)
}
