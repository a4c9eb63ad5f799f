package taskname

const (
	// License key tasks
	LicenseExpiring = "license:expiring"
)
