package talkbase

import "context"

// ============================================================================
// PresenceClient
// ============================================================================

// PresenceClient tracks online/offline state on user profiles and streams
// presence changes for individual users.
type PresenceClient struct{ c *Client }

// wentOnline flips the profile online after sign-in. Best effort; a failure
// here must not fail the sign-in.
func (p *PresenceClient) wentOnline(ctx context.Context, uid string) {
	err := p.c.docs().Update(ctx, colUsers, uid, map[string]any{
		"online":   true,
		"lastSeen": p.c.docs().Now(),
	})
	if err != nil {
		p.c.logger.Warn().Err(err).Str("uid", uid).Msg("presence online update failed")
	}
	p.c.cache.Delete(userCacheKey(uid))
}

// wentOffline flips the profile offline before sign-out.
func (p *PresenceClient) wentOffline(ctx context.Context, uid string) {
	err := p.c.docs().Update(ctx, colUsers, uid, map[string]any{
		"online":   false,
		"lastSeen": p.c.docs().Now(),
	})
	if err != nil {
		p.c.logger.Warn().Err(err).Str("uid", uid).Msg("presence offline update failed")
	}
	p.c.cache.Delete(userCacheKey(uid))
}

// Get returns the current presence of uid.
func (p *PresenceClient) Get(ctx context.Context, uid string) (*Presence, error) {
	var user User
	if err := p.c.docs().Get(ctx, colUsers, uid, &user); err != nil {
		return nil, transportErr("presence.get", err)
	}
	return &Presence{
		UID:      user.UID,
		Online:   user.Online,
		Status:   user.Status,
		LastSeen: user.LastSeen,
	}, nil
}

// Subscribe streams presence changes for uid. The returned function cancels
// the subscription.
func (p *PresenceClient) Subscribe(uid string, fn func(Presence)) (func(), error) {
	q := Query{
		Collection: colUsers,
		Filters:    []Filter{{Field: "uid", Op: "==", Value: uid}},
	}
	return p.c.docs().Watch(q, func(docs []Document) {
		if len(docs) == 0 {
			return
		}
		var user User
		if err := docs[0].Decode(&user); err != nil {
			p.c.logger.Error().Err(err).Str("uid", uid).Msg("bad presence snapshot")
			return
		}
		fn(Presence{
			UID:      user.UID,
			Online:   user.Online,
			Status:   user.Status,
			LastSeen: user.LastSeen,
		})
	})
}
