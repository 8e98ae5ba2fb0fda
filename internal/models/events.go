package models

// Channel event names. Inbound events arrive from the presence backend;
// outbound events are produced by the tracker.
const (
	// Inbound
	EventInitialUserStatuses = "initialUserStatuses"
	EventUserStatus          = "userStatus"

	// Outbound
	EventLoginUser           = "loginUser"
	EventLogoutUser          = "logoutUser"
	EventUserActive          = "userActive"
	EventUserInactive        = "userInactive"
	EventGetUserStatuses     = "getUserStatuses"
	EventUserStatusesBatch   = "userStatusesBatch"
	EventRefreshUserStatuses = "refreshUserStatuses"
)
