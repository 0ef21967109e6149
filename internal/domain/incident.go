package domain

import "time"

// MasterIncident aggregates a storm of near-identical tickets.
type MasterIncident struct {
	ID               string
	Category         Category
	Representative   []float64
	CreatedAt        time.Time
	LastActivity     time.Time
	MemberIDs        []string
	SuppressedAlerts int
	Closed           bool
}

// Clone returns a copy that shares no slices with the receiver.
func (m *MasterIncident) Clone() MasterIncident {
	out := *m
	out.Representative = append([]float64(nil), m.Representative...)
	out.MemberIDs = append([]string(nil), m.MemberIDs...)
	return out
}
