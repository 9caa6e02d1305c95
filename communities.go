package talkbase

import (
	"context"
	"fmt"
	"strings"
)

// ============================================================================
// CommunitiesClient
// ============================================================================

// CommunitiesClient handles group conversations with explicit membership:
// create, join, leave, posting with member fanout, and live subscriptions.
type CommunitiesClient struct{ c *Client }

// CommunityInput describes a community to create.
type CommunityInput struct {
	Name        string
	Description string
	ImageURL    string
	Private     bool
}

// Create creates a community with the signed-in user as creator and first
// member.
func (cm *CommunitiesClient) Create(ctx context.Context, in *CommunityInput) (*Community, error) {
	if err := cm.c.ready(); err != nil {
		return nil, err
	}
	sess := cm.c.CurrentSession()
	if sess == nil {
		return nil, ErrForbidden
	}
	if in == nil || in.Name == "" {
		return nil, fmt.Errorf("talkbase: community name is required")
	}

	now := cm.c.docs().Now()
	community := Community{
		Name:           in.Name,
		Description:    in.Description,
		ImageURL:       in.ImageURL,
		CreatedBy:      sess.UID,
		CreatedAt:      now,
		LastActivityAt: now,
		Members: []CommunityMember{{
			UID:         sess.UID,
			DisplayName: sess.DisplayName,
			PhotoURL:    sess.PhotoURL,
		}},
		MemberUIDs:  []string{sess.UID},
		MemberCount: 1,
		Private:     in.Private,
	}
	id, err := cm.c.docs().Add(ctx, colCommunities, community)
	if err != nil {
		return nil, transportErr("communities.create", err)
	}
	community.ID = id
	return &community, nil
}

// Get fetches a community by id.
func (cm *CommunitiesClient) Get(ctx context.Context, id string) (*Community, error) {
	var community Community
	if err := cm.c.docs().Get(ctx, colCommunities, id, &community); err != nil {
		return nil, transportErr("communities.get", err)
	}
	community.ID = id
	return &community, nil
}

// ListForUser returns the communities uid belongs to, most recently active
// first.
func (cm *CommunitiesClient) ListForUser(ctx context.Context, uid string) ([]Community, error) {
	docs, err := cm.c.docs().Query(ctx, communitiesQuery(uid))
	if err != nil {
		return nil, transportErr("communities.list", err)
	}
	return decodeCommunities(docs)
}

// DefaultCommunityListLimit caps how many communities ListPublic returns
// when the caller passes no limit; Search scans the same window.
const DefaultCommunityListLimit = 50

// ListPublic returns public communities, most recently active first, capped
// at limit (DefaultCommunityListLimit when <= 0).
func (cm *CommunitiesClient) ListPublic(ctx context.Context, limit int) ([]Community, error) {
	if limit <= 0 {
		limit = DefaultCommunityListLimit
	}
	docs, err := cm.c.docs().Query(ctx, Query{
		Collection: colCommunities,
		OrderBy:    "lastActivityAt",
		Desc:       true,
	})
	if err != nil {
		return nil, transportErr("communities.public", err)
	}
	all, err := decodeCommunities(docs)
	if err != nil {
		return nil, transportErr("communities.public", err)
	}
	public := make([]Community, 0, len(all))
	for _, community := range all {
		if community.Private {
			continue
		}
		public = append(public, community)
		if len(public) == limit {
			break
		}
	}
	return public, nil
}

// Search finds public communities whose name or description contains term,
// case-insensitive. Offline it returns nothing rather than failing.
func (cm *CommunitiesClient) Search(ctx context.Context, term string) ([]Community, error) {
	if term == "" {
		return nil, nil
	}
	if !cm.c.gate.CanPerformOperation() {
		return nil, nil
	}
	public, err := cm.ListPublic(ctx, 0)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	var matches []Community
	for _, community := range public {
		if strings.Contains(strings.ToLower(community.Name), needle) ||
			strings.Contains(strings.ToLower(community.Description), needle) {
			matches = append(matches, community)
		}
	}
	return matches, nil
}

// Join adds the signed-in user to a community. Joining twice returns
// ErrAlreadyMember.
func (cm *CommunitiesClient) Join(ctx context.Context, id string) error {
	if err := cm.c.ready(); err != nil {
		return err
	}
	sess := cm.c.CurrentSession()
	if sess == nil {
		return ErrForbidden
	}

	community, err := cm.Get(ctx, id)
	if err != nil {
		return err
	}
	if community.IsMember(sess.UID) {
		return ErrAlreadyMember
	}

	members := append(community.Members, CommunityMember{
		UID:         sess.UID,
		DisplayName: sess.DisplayName,
		PhotoURL:    sess.PhotoURL,
	})
	uids := append(community.MemberUIDs, sess.UID)
	err = cm.c.docs().Update(ctx, colCommunities, id, map[string]any{
		"members":     members,
		"memberUids":  uids,
		"memberCount": Increment(1),
	})
	return transportErr("communities.join", err)
}

// Leave removes the signed-in user from a community. Leaving a community the
// user does not belong to returns ErrNotMember.
func (cm *CommunitiesClient) Leave(ctx context.Context, id string) error {
	if err := cm.c.ready(); err != nil {
		return err
	}
	sess := cm.c.CurrentSession()
	if sess == nil {
		return ErrForbidden
	}

	community, err := cm.Get(ctx, id)
	if err != nil {
		return err
	}
	if !community.IsMember(sess.UID) {
		return ErrNotMember
	}

	members := make([]CommunityMember, 0, len(community.Members))
	for _, m := range community.Members {
		if m.UID != sess.UID {
			members = append(members, m)
		}
	}
	uids := make([]string, 0, len(community.MemberUIDs))
	for _, uid := range community.MemberUIDs {
		if uid != sess.UID {
			uids = append(uids, uid)
		}
	}
	err = cm.c.docs().Update(ctx, colCommunities, id, map[string]any{
		"members":     members,
		"memberUids":  uids,
		"memberCount": Increment(-1),
	})
	return transportErr("communities.leave", err)
}

// Invite adds uids to the community, skipping anyone who already belongs.
// The inviter must be a member; when every invitee already belongs the call
// returns ErrAlreadyMember. Invitees get a community notification.
func (cm *CommunitiesClient) Invite(ctx context.Context, id string, uids ...string) error {
	if err := cm.c.ready(); err != nil {
		return err
	}
	sess := cm.c.CurrentSession()
	if sess == nil {
		return ErrForbidden
	}

	community, err := cm.Get(ctx, id)
	if err != nil {
		return err
	}
	if !community.IsMember(sess.UID) {
		return ErrNotMember
	}

	members := community.Members
	memberUIDs := community.MemberUIDs
	seen := make(map[string]bool, len(memberUIDs))
	for _, uid := range memberUIDs {
		seen[uid] = true
	}
	var added []string
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		member := CommunityMember{UID: uid}
		if profile, err := cm.c.users.Get(ctx, uid); err == nil {
			member.DisplayName = profile.DisplayName
			member.PhotoURL = profile.PhotoURL
		}
		members = append(members, member)
		memberUIDs = append(memberUIDs, uid)
		added = append(added, uid)
	}
	if len(added) == 0 {
		return ErrAlreadyMember
	}

	err = cm.c.docs().Update(ctx, colCommunities, id, map[string]any{
		"members":     members,
		"memberUids":  memberUIDs,
		"memberCount": Increment(len(added)),
	})
	if err != nil {
		return transportErr("communities.invite", err)
	}

	payload := CommunityPayload{
		CommunityID: id,
		Preview:     community.Name,
		SenderName:  sess.DisplayName,
	}
	for _, uid := range added {
		if err := cm.c.notifications.notifyCommunity(ctx, uid, sess.UID, payload); err != nil {
			cm.c.logger.Warn().Err(err).
				Str("community", id).Str("invitee", uid).
				Msg("invite notification not delivered")
		}
	}
	return nil
}

// Update edits community metadata. Only the creator may update; empty fields
// are left unchanged.
func (cm *CommunitiesClient) Update(ctx context.Context, id string, in *CommunityInput) error {
	if err := cm.c.ready(); err != nil {
		return err
	}
	community, err := cm.Get(ctx, id)
	if err != nil {
		return err
	}
	if community.CreatedBy != cm.c.currentUID() {
		return ErrForbidden
	}

	fields := map[string]any{}
	if in != nil {
		if in.Name != "" {
			fields["name"] = in.Name
		}
		if in.Description != "" {
			fields["description"] = in.Description
		}
		if in.ImageURL != "" {
			fields["imageUrl"] = in.ImageURL
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return transportErr("communities.update", cm.c.docs().Update(ctx, colCommunities, id, fields))
}

// Delete removes a community. Only the creator may delete it.
func (cm *CommunitiesClient) Delete(ctx context.Context, id string) error {
	if err := cm.c.ready(); err != nil {
		return err
	}
	community, err := cm.Get(ctx, id)
	if err != nil {
		return err
	}
	if community.CreatedBy != cm.c.currentUID() {
		return ErrForbidden
	}
	return transportErr("communities.delete", cm.c.docs().Delete(ctx, colCommunities, id))
}

// Post appends a message to the community log, bumps activity, and fans out
// a notification to every member except the sender.
func (cm *CommunitiesClient) Post(ctx context.Context, id string, in *MessageInput) (*Message, error) {
	if err := cm.c.ready(); err != nil {
		return nil, err
	}
	sess := cm.c.CurrentSession()
	if sess == nil {
		return nil, ErrForbidden
	}
	if in == nil || (in.Text == "" && in.Attachment == nil) {
		return nil, ErrEmptyMessage
	}

	community, err := cm.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !community.IsMember(sess.UID) {
		return nil, ErrNotMember
	}

	kind := in.Kind
	if kind == "" {
		kind = KindText
		if in.Attachment != nil {
			kind = kindForMime(in.Attachment.MimeType)
		}
	}
	msg := Message{
		RoomID:     id,
		SenderID:   sess.UID,
		SenderName: sess.DisplayName,
		Kind:       kind,
		Text:       in.Text,
		Attachment: in.Attachment,
		SentAt:     cm.c.docs().Now(),
	}
	msgID, err := cm.c.docs().Add(ctx, communityMessagesCollection(id), msg)
	if err != nil {
		return nil, transportErr("communities.post", err)
	}
	msg.ID = msgID

	err = cm.c.docs().Update(ctx, colCommunities, id, map[string]any{
		"lastActivityAt": msg.SentAt,
	})
	if err != nil {
		return nil, transportErr("communities.post", err)
	}

	payload := CommunityPayload{
		CommunityID: id,
		Preview:     msg.Preview(),
		SenderName:  sess.DisplayName,
	}
	for _, uid := range community.MemberUIDs {
		if uid == sess.UID {
			continue
		}
		if err := cm.c.notifications.notifyCommunity(ctx, uid, sess.UID, payload); err != nil {
			cm.c.logger.Warn().Err(err).
				Str("community", id).Str("member", uid).
				Msg("community notification not delivered")
		}
	}
	return &msg, nil
}

// SubscribeMessages streams message snapshots for a community, oldest first.
func (cm *CommunitiesClient) SubscribeMessages(id string, fn func([]Message)) (func(), error) {
	q := Query{
		Collection: communityMessagesCollection(id),
		OrderBy:    "sentAt",
		Desc:       true,
		Limit:      cm.c.snapshotLimit,
	}
	return cm.c.docs().Watch(q, func(docs []Document) {
		messages, err := decodeMessages(docs)
		if err != nil {
			cm.c.logger.Error().Err(err).Str("community", id).Msg("bad community snapshot")
			return
		}
		reverseMessages(messages)
		fn(messages)
	})
}

// Subscribe streams the community list for a user.
func (cm *CommunitiesClient) Subscribe(uid string, fn func([]Community)) (func(), error) {
	return cm.c.docs().Watch(communitiesQuery(uid), func(docs []Document) {
		communities, err := decodeCommunities(docs)
		if err != nil {
			cm.c.logger.Error().Err(err).Str("uid", uid).Msg("bad community list snapshot")
			return
		}
		fn(communities)
	})
}

func communitiesQuery(uid string) Query {
	return Query{
		Collection: colCommunities,
		Filters:    []Filter{{Field: "memberUids", Op: "array-contains", Value: uid}},
		OrderBy:    "lastActivityAt",
		Desc:       true,
	}
}

func decodeCommunities(docs []Document) ([]Community, error) {
	communities := make([]Community, 0, len(docs))
	for _, doc := range docs {
		var community Community
		if err := doc.Decode(&community); err != nil {
			return nil, err
		}
		community.ID = doc.ID
		communities = append(communities, community)
	}
	return communities, nil
}
