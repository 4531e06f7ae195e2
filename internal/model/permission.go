package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionTestsMonitor allows watching live sessions and results of a test.
	PermissionTestsMonitor Permission = "tests:monitor"

	// PermissionTestsPublish allows refreshing the cached paper of a published test.
	PermissionTestsPublish Permission = "tests:publish"
)

// AllPermissions lists every permission code an admin token may carry.
var AllPermissions = []Permission{
	PermissionTestsMonitor,
	PermissionTestsPublish,
}

// Codes converts permissions to the string form embedded in tokens.
func Codes(perms ...Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
