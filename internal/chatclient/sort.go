package chatclient

import (
	"sort"

	"directchat/internal/domain"
)

// Conversation is one sidebar row.
type Conversation struct {
	Contact domain.Contact
	Unread  bool
	Online  bool
}

// SortContacts orders rows by latest message, then unread, then online.
// Ties keep their input order.
func SortContacts(rows []Conversation) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		at, bt := a.Contact.LastMessageAt(), b.Contact.LastMessageAt()
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.Unread != b.Unread {
			return a.Unread
		}
		if a.Online != b.Online {
			return a.Online
		}
		return false
	})
}
