package chat

import "slices"

// Action names a destructive operation submitted to the gate.
type Action string

// ActionDelete is currently the only moderated action.
const ActionDelete Action = "delete"

// ModerationGate decides whether a requester may perform a destructive
// action on a message. It is a pure predicate over its inputs: no storage,
// no side effects. The moderator role name comes from the identity system
// (e.g. ROLE_ADMIN) and is injected at construction.
type ModerationGate struct {
	moderatorRole string
}

func NewModerationGate(moderatorRole string) *ModerationGate {
	return &ModerationGate{moderatorRole: moderatorRole}
}

// Authorize reports whether requesterID, holding the given roles, may
// perform action on msg. Deletes are allowed for the message's own sender
// and for holders of the moderator role; everything else is denied.
func (g *ModerationGate) Authorize(action Action, requesterID int64, msg Message, roles []string) bool {
	switch action {
	case ActionDelete:
		if requesterID == msg.SenderID {
			return true
		}
		return slices.Contains(roles, g.moderatorRole)
	default:
		return false
	}
}
