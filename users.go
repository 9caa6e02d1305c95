package talkbase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// UsersClient
// ============================================================================

// UsersClient handles user profiles, contacts, blocking, and push tokens.
type UsersClient struct{ c *Client }

// Contact is one entry in a user's contact list.
type Contact struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	AddedAt     Timestamp `json:"addedAt"`
}

func userCacheKey(uid string) string { return "user_profile_" + uid }

// provision creates the profile document for a fresh account. An existing
// profile is left untouched.
func (u *UsersClient) provision(ctx context.Context, sess *Session) error {
	profile := User{
		UID:         sess.UID,
		Email:       sess.Email,
		DisplayName: sess.DisplayName,
		PhotoURL:    sess.PhotoURL,
		CreatedAt:   u.c.docs().Now(),
	}
	err := u.c.docs().Create(ctx, colUsers, sess.UID, profile)
	if errors.Is(err, ErrExists) {
		return nil
	}
	return transportErr("users.provision", err)
}

// Get fetches a profile. Results are cached briefly.
func (u *UsersClient) Get(ctx context.Context, uid string) (*User, error) {
	if cached, ok := u.c.cache.Get(userCacheKey(uid)); ok {
		user := cached.(User)
		return &user, nil
	}
	var user User
	if err := u.c.docs().Get(ctx, colUsers, uid, &user); err != nil {
		return nil, transportErr("users.get", err)
	}
	u.c.cache.Set(userCacheKey(uid), user, 0)
	return &user, nil
}

// UpdateProfile updates display name and photo on the signed-in profile.
func (u *UsersClient) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	uid := u.c.currentUID()
	if uid == "" {
		return ErrForbidden
	}
	fields := map[string]any{}
	if displayName != "" {
		fields["displayName"] = displayName
	}
	if photoURL != "" {
		fields["photoURL"] = photoURL
	}
	if len(fields) == 0 {
		return nil
	}
	if err := u.c.docs().Update(ctx, colUsers, uid, fields); err != nil {
		return transportErr("users.update", err)
	}
	u.c.cache.Delete(userCacheKey(uid))
	return nil
}

// DefaultUserSearchLimit caps how many profiles Search returns.
const DefaultUserSearchLimit = 20

// Search finds users whose display name or email contains term,
// case-insensitive. Offline it returns nothing rather than failing.
func (u *UsersClient) Search(ctx context.Context, term string) ([]User, error) {
	if term == "" {
		return nil, nil
	}
	if !u.c.gate.CanPerformOperation() {
		return nil, nil
	}
	docs, err := u.c.docs().Query(ctx, Query{Collection: colUsers, OrderBy: "createdAt"})
	if err != nil {
		return nil, transportErr("users.search", err)
	}

	needle := strings.ToLower(term)
	var matches []User
	for _, doc := range docs {
		var user User
		if err := doc.Decode(&user); err != nil {
			return nil, transportErr("users.search", err)
		}
		if strings.Contains(strings.ToLower(user.DisplayName), needle) ||
			strings.Contains(strings.ToLower(user.Email), needle) {
			matches = append(matches, user)
			if len(matches) == DefaultUserSearchLimit {
				break
			}
		}
	}
	return matches, nil
}

// UploadProfilePhoto stores the image bytes in the blob store and points the
// signed-in profile at the resulting URL.
func (u *UsersClient) UploadProfilePhoto(ctx context.Context, data []byte, fileName string) (string, error) {
	if err := u.c.ready(); err != nil {
		return "", err
	}
	uid := u.c.currentUID()
	if uid == "" {
		return "", ErrForbidden
	}
	if fileName == "" {
		return "", fmt.Errorf("talkbase: fileName is required")
	}
	if int64(len(data)) > MaxUploadSize {
		return "", fmt.Errorf("talkbase: file exceeds maximum size of 50 MB")
	}

	path := "profilePictures/" + uid + "/" + uuid.NewString() + "-" + fileName
	url, err := u.c.backend.Blobs().Upload(ctx, path, data, guessMimeType(fileName))
	if err != nil {
		return "", transportErr("users.photo", err)
	}
	if err := u.c.docs().Update(ctx, colUsers, uid, map[string]any{"photoURL": url}); err != nil {
		return "", transportErr("users.photo", err)
	}
	u.c.cache.Delete(userCacheKey(uid))
	return url, nil
}

// SetStatus updates the signed-in user's status line and notifies contacts.
func (u *UsersClient) SetStatus(ctx context.Context, status string) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	uid := u.c.currentUID()
	if uid == "" {
		return ErrForbidden
	}
	if err := u.c.docs().Update(ctx, colUsers, uid, map[string]any{"status": status}); err != nil {
		return transportErr("users.status", err)
	}
	u.c.cache.Delete(userCacheKey(uid))

	contacts, err := u.ListContacts(ctx, uid)
	if err != nil {
		u.c.logger.Warn().Err(err).Str("uid", uid).Msg("status fanout skipped")
		return nil
	}
	for _, contact := range contacts {
		err := u.c.notifications.notifyStatus(ctx, contact.UID, uid, StatusPayload{
			UserID: uid,
			Status: status,
		})
		if err != nil {
			u.c.logger.Warn().Err(err).
				Str("uid", uid).Str("contact", contact.UID).
				Msg("status notification not delivered")
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Contacts
// ----------------------------------------------------------------------------

// AddContact adds uid to the signed-in user's contact list.
func (u *UsersClient) AddContact(ctx context.Context, uid string) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	owner := u.c.currentUID()
	if owner == "" {
		return ErrForbidden
	}
	profile, err := u.Get(ctx, uid)
	if err != nil {
		return err
	}
	contact := Contact{
		UID:         uid,
		DisplayName: profile.DisplayName,
		PhotoURL:    profile.PhotoURL,
		AddedAt:     u.c.docs().Now(),
	}
	return transportErr("users.addcontact",
		u.c.docs().Set(ctx, contactsCollection(owner), uid, contact))
}

// RemoveContact removes uid from the signed-in user's contact list.
func (u *UsersClient) RemoveContact(ctx context.Context, uid string) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	owner := u.c.currentUID()
	if owner == "" {
		return ErrForbidden
	}
	return transportErr("users.removecontact",
		u.c.docs().Delete(ctx, contactsCollection(owner), uid))
}

// ListContacts returns owner's contacts ordered by when they were added.
func (u *UsersClient) ListContacts(ctx context.Context, owner string) ([]Contact, error) {
	docs, err := u.c.docs().Query(ctx, Query{
		Collection: contactsCollection(owner),
		OrderBy:    "addedAt",
	})
	if err != nil {
		return nil, transportErr("users.contacts", err)
	}
	contacts := make([]Contact, 0, len(docs))
	for _, doc := range docs {
		var contact Contact
		if err := doc.Decode(&contact); err != nil {
			return nil, transportErr("users.contacts", err)
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// ----------------------------------------------------------------------------
// Blocking
// ----------------------------------------------------------------------------

// Block adds uid to the signed-in user's block list. Blocked senders still
// produce stored notifications; rendering is the caller's concern.
func (u *UsersClient) Block(ctx context.Context, uid string) error {
	return u.setBlocked(ctx, uid, true)
}

// Unblock removes uid from the signed-in user's block list.
func (u *UsersClient) Unblock(ctx context.Context, uid string) error {
	return u.setBlocked(ctx, uid, false)
}

func (u *UsersClient) setBlocked(ctx context.Context, uid string, blocked bool) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	owner := u.c.currentUID()
	if owner == "" {
		return ErrForbidden
	}
	var profile User
	if err := u.c.docs().Get(ctx, colUsers, owner, &profile); err != nil {
		return transportErr("users.block", err)
	}

	list := profile.BlockedUsers
	idx := -1
	for i, b := range list {
		if b == uid {
			idx = i
			break
		}
	}
	switch {
	case blocked && idx < 0:
		list = append(list, uid)
	case !blocked && idx >= 0:
		list = append(list[:idx], list[idx+1:]...)
	default:
		return nil
	}

	if err := u.c.docs().Update(ctx, colUsers, owner, map[string]any{"blockedUsers": list}); err != nil {
		return transportErr("users.block", err)
	}
	u.c.cache.Delete(userCacheKey(owner))
	return nil
}

// ----------------------------------------------------------------------------
// Push tokens
// ----------------------------------------------------------------------------

// RegisterPushToken stores this device's push token on the profile so the
// platform can reach the user while the app is backgrounded.
func (u *UsersClient) RegisterPushToken(ctx context.Context) error {
	if err := u.c.ready(); err != nil {
		return err
	}
	uid := u.c.currentUID()
	if uid == "" {
		return ErrForbidden
	}
	token, err := u.c.backend.Push().Token(ctx)
	if err != nil {
		return transportErr("users.pushtoken", err)
	}
	err = u.c.docs().Update(ctx, colUsers, uid, map[string]any{"pushToken": token})
	if err != nil {
		return transportErr("users.pushtoken", err)
	}
	u.c.cache.Delete(userCacheKey(uid))
	return nil
}
