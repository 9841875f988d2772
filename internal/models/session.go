package models

import "time"

// Session groups the ordered turns of one conversation.
type Session struct {
	ID         string    `json:"id"`
	History    []Message `json:"history"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Clone returns a copy whose history can be read without holding the owner's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	return &out
}
