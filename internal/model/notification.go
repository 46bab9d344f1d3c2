package model

import (
	"sort"
	"time"
)

// Type is the presentation category of a notification.
type Type string

const (
	TypeProduct   Type = "product"
	TypeAlert     Type = "alert"
	TypeSystem    Type = "system"
	TypeWarranty  Type = "warranty"
	TypeGrievance Type = "grievance"
	TypeOrder     Type = "order"
	TypeScheme    Type = "scheme"
	TypePOSM      Type = "posm"
)

// Known reports whether t is one of the categories the portals render
// with a dedicated style. Unknown types are kept verbatim.
func (t Type) Known() bool {
	switch t {
	case TypeProduct, TypeAlert, TypeSystem, TypeWarranty,
		TypeGrievance, TypeOrder, TypeScheme, TypePOSM:
		return true
	}
	return false
}

// Notification is a single server-assigned notification record as held
// by the client.
type Notification struct {
	// ID is assigned by the server and is stable across fetch and push.
	ID int64 `json:"id"`

	Title   string `json:"title"`
	Message string `json:"message"`
	Type    Type   `json:"type"`

	// Link is an optional deep-link target inside the portal.
	Link string `json:"link,omitempty"`

	// Metadata is nil when the record carried none or it failed to decode.
	Metadata *Metadata `json:"metadata,omitempty"`

	IsRead bool `json:"is_read"`

	// IsCleared is set when the user removed the record from the
	// default (non-history) view.
	IsCleared bool `json:"is_cleared"`

	CreatedAt time.Time `json:"created_at"`
}

// Unread reports whether the notification still counts towards the
// unread badge.
func (n Notification) Unread() bool {
	return !n.IsRead
}

// Clone returns a copy that shares no slices with n.
func (n Notification) Clone() Notification {
	out := n
	if n.Metadata != nil {
		md := n.Metadata.Clone()
		out.Metadata = &md
	}
	return out
}

// NewerThan reports whether n sorts before other in a newest-first list.
// Records created at the same instant are ordered by descending id.
func (n Notification) NewerThan(other Notification) bool {
	if n.CreatedAt.Equal(other.CreatedAt) {
		return n.ID > other.ID
	}
	return n.CreatedAt.After(other.CreatedAt)
}

// SortNewestFirst orders notifications by CreatedAt descending in place.
func SortNewestFirst(ns []Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].NewerThan(ns[j])
	})
}
