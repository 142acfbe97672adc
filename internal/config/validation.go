package config

import "fmt"

// ValidatePerformanceIssueFlags enforces the mutual-exclusion invariant at
// the config layer too, so a bad config fails fast with a
// config-shaped error instead of propagating into the resolver's fatal path.
func ValidatePerformanceIssueFlags(rs *RequestedSettings) error {
	if rs.PerformanceIssueSame && rs.PerformanceIssueUnique {
		return fmt.Errorf("performance_issue_same and performance_issue_unique are mutually exclusive")
	}
	return nil
}

// ValidateDashboardAddr checks the dashboard listen address is non-empty
// when the dashboard is enabled.
func ValidateDashboardAddr(d DashboardConfig) error {
	if d.Enabled && d.Addr == "" {
		return fmt.Errorf("dashboard.addr must be set when dashboard.enabled is true")
	}
	return nil
}
