package telegram

import (
	"strings"
	"sync"

	client "github.com/zelenin/go-tdlib/client"
)

// ContactSource is the part of the TDLib client the cache reads from.
type ContactSource interface {
	GetContacts() (*client.Users, error)
	SearchContacts(req *client.SearchContactsRequest) (*client.Users, error)
	GetUser(req *client.GetUserRequest) (*client.User, error)
}

// ContactCache maps usernames and phone numbers to Telegram user IDs.
type ContactCache struct {
	mu           sync.RWMutex
	usernameToID map[string]int64
	phoneToID    map[string]int64
}

func NewContactCache() *ContactCache {
	return &ContactCache{
		usernameToID: make(map[string]int64),
		phoneToID:    make(map[string]int64),
	}
}

// Refresh reloads every contact of the account.
func (c *ContactCache) Refresh(cl ContactSource) error {
	ids := map[int64]struct{}{}
	contacts, err := cl.GetContacts()
	if err != nil {
		return err
	}
	for _, id := range contacts.UserIds {
		ids[id] = struct{}{}
	}
	// an empty query lists contacts GetContacts may have missed
	if res, err := cl.SearchContacts(&client.SearchContactsRequest{Query: "", Limit: 100}); err == nil {
		for _, id := range res.UserIds {
			ids[id] = struct{}{}
		}
	}
	users := make([]*client.User, 0, len(ids))
	for id := range ids {
		u, err := cl.GetUser(&client.GetUserRequest{UserId: id})
		if err != nil {
			continue
		}
		users = append(users, u)
	}
	c.Set(users)
	return nil
}

// Set replaces the cache content.
func (c *ContactCache) Set(users []*client.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usernameToID = make(map[string]int64)
	c.phoneToID = make(map[string]int64)
	for _, u := range users {
		c.addLocked(u)
	}
}

func (c *ContactCache) Update(u *client.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(u)
}

func (c *ContactCache) addLocked(u *client.User) {
	if u == nil {
		return
	}
	if name := username(u); name != "" {
		c.usernameToID[strings.ToLower(name)] = u.Id
	}
	if u.PhoneNumber != "" {
		c.phoneToID[normalizePhone(u.PhoneNumber)] = u.Id
	}
}

// Resolve returns the user ID for a username (with or without "@") or a
// phone number.
func (c *ContactCache) Resolve(ref string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.usernameToID[strings.ToLower(strings.TrimPrefix(ref, "@"))]; ok {
		return id, true
	}
	if id, ok := c.phoneToID[normalizePhone(ref)]; ok {
		return id, true
	}
	return 0, false
}

// SearchAndAdd looks up query among contacts and caches the first match.
func (c *ContactCache) SearchAndAdd(cl ContactSource, query string) (int64, bool) {
	res, err := cl.SearchContacts(&client.SearchContactsRequest{Query: strings.TrimPrefix(query, "@"), Limit: 1})
	if err != nil || len(res.UserIds) == 0 {
		return 0, false
	}
	u, err := cl.GetUser(&client.GetUserRequest{UserId: res.UserIds[0]})
	if err != nil {
		return 0, false
	}
	c.Update(u)
	return u.Id, true
}

// username returns the primary username of a user if available.
func username(u *client.User) string {
	if u == nil || u.Usernames == nil {
		return ""
	}
	if u.Usernames.EditableUsername != "" {
		return u.Usernames.EditableUsername
	}
	if len(u.Usernames.ActiveUsernames) > 0 {
		return u.Usernames.ActiveUsernames[0]
	}
	return ""
}

// normalizePhone drops everything but digits; TDLib stores numbers without
// "+".
func normalizePhone(p string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, p)
}
