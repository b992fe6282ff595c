package server

import (
	"errors"
	"regexp"
	"sort"
	"sync"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,16}$`)

// Errors returned by Hub operations. Each maps to a wire error code.
var (
	ErrInvalidName     = errors.New("invalid user name")
	ErrNameTaken       = errors.New("user name already taken")
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrUnknownUser     = errors.New("no such user")
	ErrInvalidGroup    = errors.New("invalid group name")
	ErrUnknownGroup    = errors.New("no such group")
	ErrNotMember       = errors.New("not a member of the group")
	ErrGroupExists     = errors.New("group already exists")
	ErrAlreadyMember   = errors.New("already a member of the group")
)

// Hub is the shared user and group directory. It never writes to
// connections itself; lookups return the sessions to deliver to.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*session
	groups map[string]map[string]*session
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		users:  make(map[string]*session),
		groups: make(map[string]map[string]*session),
	}
}

// Login binds name to s.
func (h *Hub) Login(s *session, name string) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.name != "" {
		return ErrAlreadyLoggedIn
	}
	if _, taken := h.users[name]; taken {
		return ErrNameTaken
	}
	h.users[name] = s
	s.name = name
	return nil
}

// CreateGroup adds an empty group.
func (h *Hub) CreateGroup(group string) error {
	if !namePattern.MatchString(group) {
		return ErrInvalidGroup
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.groups[group]; exists {
		return ErrGroupExists
	}
	h.groups[group] = make(map[string]*session)
	return nil
}

// Enter adds s to group.
func (h *Hub) Enter(s *session, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return ErrUnknownGroup
	}
	if _, in := members[s.name]; in {
		return ErrAlreadyMember
	}
	members[s.name] = s
	return nil
}

// Leave removes s from group.
func (h *Hub) Leave(s *session, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return ErrUnknownGroup
	}
	if _, in := members[s.name]; !in {
		return ErrNotMember
	}
	delete(members, s.name)
	return nil
}

// Members returns the sorted member names of group.
func (h *Hub) Members(group string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.groups[group]
	if !ok {
		return nil, ErrUnknownGroup
	}
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GroupRecipients returns every member of group except sender, which
// must itself be a member.
func (h *Hub) GroupRecipients(sender *session, group string) ([]*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.groups[group]
	if !ok {
		return nil, ErrUnknownGroup
	}
	if _, in := members[sender.name]; !in {
		return nil, ErrNotMember
	}
	out := make([]*session, 0, len(members))
	for name, s := range members {
		if name != sender.name {
			out = append(out, s)
		}
	}
	return out, nil
}

// User returns the session logged in as name.
func (h *Hub) User(name string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.users[name]
	if !ok {
		return nil, ErrUnknownUser
	}
	return s, nil
}

// Unregister removes s from the directory and from every group.
func (h *Hub) Unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.name == "" {
		return
	}
	if h.users[s.name] == s {
		delete(h.users, s.name)
	}
	for _, members := range h.groups {
		if members[s.name] == s {
			delete(members, s.name)
		}
	}
}

// UserCount returns the number of logged-in users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}
