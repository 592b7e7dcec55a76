package models

type Stats struct {
	TotalSwitches        int64 `json:"total_switches"`
	ActiveSwitches       int64 `json:"active_switches"`
	TriggeredSwitches    int64 `json:"triggered_switches"`
	PausedSwitches       int64 `json:"paused_switches"`
	DisabledSwitches     int64 `json:"disabled_switches"`
	RecentCheckIns       int64 `json:"recent_check_ins"`
	PendingNotifications int64 `json:"pending_notifications"`
	FailedNotifications  int64 `json:"failed_notifications"`

	Jobs *JobsStats `json:"jobs,omitempty"`
}
