package access

// Capability is one atomic permission over a child's records.
type Capability string

const (
	CapViewReport    Capability = "VIEW_REPORT"
	CapWriteNote     Capability = "WRITE_NOTE"
	CapPlayGame      Capability = "PLAY_GAME"
	CapAssignMission Capability = "ASSIGN_MISSION"
	CapManage        Capability = "MANAGE"
)

// Registry returns the fixed capability set. A primary guardian holds all of
// these regardless of what the grant record stores.
func Registry() []Capability {
	return []Capability{
		CapViewReport,
		CapWriteNote,
		CapPlayGame,
		CapAssignMission,
		CapManage,
	}
}

// Valid reports whether c is a registered capability.
func (c Capability) Valid() bool {
	switch c {
	case CapViewReport, CapWriteNote, CapPlayGame, CapAssignMission, CapManage:
		return true
	}
	return false
}

// Role classifies a platform user. Only PARENT may hold primary guardianship.
type Role string

const (
	RoleParent    Role = "PARENT"
	RoleTherapist Role = "THERAPIST"
	RoleAdmin     Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleTherapist, RoleAdmin:
		return true
	}
	return false
}
