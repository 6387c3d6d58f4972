// Package session keeps bounded per-session conversation history used for
// query reformulation on the streaming path.
package session

import (
	"sync"
	"time"

	"github.com/amoshnin/documind/llm"
)

const (
	DefaultMaxMessages = 20
	DefaultMaxSessions = 200
)

type entry struct {
	messages []llm.Message
	lastSeen time.Time
}

// History is shared mutable state across requests: a map of session id to
// recent messages, capped in both per-session length and total session
// count. Oldest sessions (by last write) are evicted first, but never the
// session currently being written.
type History struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	maxMessages int
	maxSessions int
	now         func() time.Time
}

func NewHistory(maxMessages, maxSessions int) *History {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &History{
		sessions:    make(map[string]*entry),
		maxMessages: maxMessages,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// Messages returns a copy of the session's history, oldest first. Unknown
// sessions yield nil.
func (h *History) Messages(id string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id]
	if !ok {
		return nil
	}
	out := make([]llm.Message, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// Append records messages for the session, trimming to the per-session cap
// (oldest messages dropped) and evicting whole sessions beyond the global
// cap (least recently written first, excluding id itself).
func (h *History) Append(id string, messages ...llm.Message) {
	if id == "" || len(messages) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id]
	if !ok {
		sess = &entry{}
		h.sessions[id] = sess
	}
	sess.messages = append(sess.messages, messages...)
	if overflow := len(sess.messages) - h.maxMessages; overflow > 0 {
		sess.messages = append([]llm.Message(nil), sess.messages[overflow:]...)
	}
	sess.lastSeen = h.now()

	for len(h.sessions) > h.maxSessions {
		oldestID := ""
		var oldestSeen time.Time
		for sid, e := range h.sessions {
			if sid == id {
				continue
			}
			if oldestID == "" || e.lastSeen.Before(oldestSeen) {
				oldestID = sid
				oldestSeen = e.lastSeen
			}
		}
		if oldestID == "" {
			break
		}
		delete(h.sessions, oldestID)
	}
}

// Len reports the number of tracked sessions.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
