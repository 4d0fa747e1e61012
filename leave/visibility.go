package leave

// FilterVisible narrows the full request set to what the caller may see.
//
//	admin   -> everything
//	manager -> requests of their own department
//	other   -> nothing (self-service views come from the "mine" endpoint)
//
// Unknown roles fail closed. The input slice is never returned or modified.
func FilterVisible(requests []LeaveRequest, role Role, departmentID string) []LeaveRequest {
	out := make([]LeaveRequest, 0, len(requests))
	switch role {
	case RoleAdmin:
		out = append(out, requests...)
	case RoleManager:
		if departmentID == "" {
			return out
		}
		for _, r := range requests {
			if r.DepartmentID == departmentID {
				out = append(out, r)
			}
		}
	}
	return out
}

// CanView is the per-request form of the same decision, with ownership added.
func CanView(r LeaveRequest, callerID string, role Role, departmentID string) bool {
	if callerID != "" && r.RequesterID == callerID {
		return true
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return departmentID != "" && r.DepartmentID == departmentID
	}
	return false
}

// CanResolve decides whether the caller may approve or reject r.
// Nobody resolves their own request.
func CanResolve(r LeaveRequest, callerID string, role Role, departmentID string) bool {
	if callerID != "" && r.RequesterID == callerID {
		return false
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return departmentID != "" && r.DepartmentID == departmentID
	}
	return false
}
