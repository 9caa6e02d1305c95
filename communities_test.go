package talkbase

import (
	"context"
	"errors"
	"testing"
)

func TestCommunitiesLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("create seeds the creator as first member", func(t *testing.T) {
		c := newTestClient(t)
		sess := signUp(t, c, "ada@example.com", "Ada")

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if community.ID == "" || community.CreatedBy != sess.UID {
			t.Fatalf("unexpected community: %+v", community)
		}
		if community.MemberCount != 1 || !community.IsMember(sess.UID) {
			t.Fatalf("expected creator as sole member, got %+v", community)
		}
	})

	t.Run("name is required", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		if _, err := c.Communities().Create(ctx, &CommunityInput{}); err == nil {
			t.Fatal("expected error for empty name")
		}
	})

	t.Run("join and leave enforce membership", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		joiner := signUp(t, c, "bob@example.com", "Bob")
		if err := c.Communities().Join(ctx, community.ID); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		if err := c.Communities().Join(ctx, community.ID); !errors.Is(err, ErrAlreadyMember) {
			t.Fatalf("expected ErrAlreadyMember, got %v", err)
		}

		got, err := c.Communities().Get(ctx, community.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.MemberCount != 2 || !got.IsMember(joiner.UID) {
			t.Fatalf("expected 2 members, got %+v", got)
		}

		if err := c.Communities().Leave(ctx, community.ID); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		if err := c.Communities().Leave(ctx, community.ID); !errors.Is(err, ErrNotMember) {
			t.Fatalf("expected ErrNotMember, got %v", err)
		}

		got, err = c.Communities().Get(ctx, community.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.MemberCount != 1 || got.IsMember(joiner.UID) {
			t.Fatalf("expected joiner removed, got %+v", got)
		}
	})

	t.Run("only the creator deletes", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		signUp(t, c, "bob@example.com", "Bob")
		if err := c.Communities().Delete(ctx, community.ID); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}

		if _, err := c.SignIn(ctx, "ada@example.com", "secret"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if err := c.Communities().Delete(ctx, community.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := c.Communities().Get(ctx, community.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected community gone, got %v", err)
		}
	})
}

func TestCommunitiesPost(t *testing.T) {
	ctx := context.Background()

	t.Run("fans out to members except the sender", func(t *testing.T) {
		c := newTestClient(t)
		member := signUp(t, c, "bob@example.com", "Bob")
		creator := signUp(t, c, "ada@example.com", "Ada")

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if _, err := c.SignIn(ctx, "bob@example.com", "secret"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if err := c.Communities().Join(ctx, community.ID); err != nil {
			t.Fatalf("Join failed: %v", err)
		}

		msg, err := c.Communities().Post(ctx, community.ID, &MessageInput{Text: "welcome"})
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		if msg.SenderID != member.UID {
			t.Fatalf("unexpected sender: %+v", msg)
		}

		creatorNotes, err := c.Notifications().List(ctx, creator.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(creatorNotes) != 1 || creatorNotes[0].Kind != NotifyCommunity {
			t.Fatalf("expected one community notification, got %+v", creatorNotes)
		}
		p, ok := creatorNotes[0].Payload.(CommunityPayload)
		if !ok || p.CommunityID != community.ID || p.Preview != "welcome" {
			t.Fatalf("unexpected payload: %+v", creatorNotes[0].Payload)
		}

		senderNotes, err := c.Notifications().List(ctx, member.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(senderNotes) != 0 {
			t.Fatalf("sender must not be notified, got %+v", senderNotes)
		}
	})

	t.Run("non-members cannot post", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		signUp(t, c, "eve@example.com", "Eve")
		if _, err := c.Communities().Post(ctx, community.ID, &MessageInput{Text: "hi"}); !errors.Is(err, ErrNotMember) {
			t.Fatalf("expected ErrNotMember, got %v", err)
		}
	})

	t.Run("posting bumps activity for list order", func(t *testing.T) {
		c := newTestClient(t)
		sess := signUp(t, c, "ada@example.com", "Ada")

		first, err := c.Communities().Create(ctx, &CommunityInput{Name: "first"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		second, err := c.Communities().Create(ctx, &CommunityInput{Name: "second"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if _, err := c.Communities().Post(ctx, first.ID, &MessageInput{Text: "bump"}); err != nil {
			t.Fatalf("Post failed: %v", err)
		}

		list, err := c.Communities().ListForUser(ctx, sess.UID)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
			t.Fatalf("unexpected order: %+v", list)
		}
	})
}

func TestCommunitiesInvite(t *testing.T) {
	ctx := context.Background()

	t.Run("adds invitees and notifies them", func(t *testing.T) {
		c := newTestClient(t)
		_, bob := twoUsers(t, c)

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := c.Communities().Invite(ctx, community.ID, bob.UID); err != nil {
			t.Fatalf("Invite failed: %v", err)
		}

		updated, err := c.Communities().Get(ctx, community.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if updated.MemberCount != 2 || !updated.IsMember(bob.UID) {
			t.Fatalf("expected bob as member, got %+v", updated)
		}

		notes, err := c.Notifications().List(ctx, bob.UID, 10)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(notes) != 1 || notes[0].Kind != NotifyCommunity {
			t.Fatalf("expected a community notification, got %+v", notes)
		}
	})

	t.Run("all invitees already members", func(t *testing.T) {
		c := newTestClient(t)
		_, bob := twoUsers(t, c)

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := c.Communities().Invite(ctx, community.ID, bob.UID); err != nil {
			t.Fatalf("Invite failed: %v", err)
		}
		if err := c.Communities().Invite(ctx, community.ID, bob.UID); !errors.Is(err, ErrAlreadyMember) {
			t.Fatalf("expected ErrAlreadyMember, got %v", err)
		}
	})

	t.Run("inviter must be a member", func(t *testing.T) {
		c := newTestClient(t)
		_, bob := twoUsers(t, c)

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := c.SignIn(ctx, "bob@example.com", "secret"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if err := c.Communities().Invite(ctx, community.ID, bob.UID); !errors.Is(err, ErrNotMember) {
			t.Fatalf("expected ErrNotMember, got %v", err)
		}
	})
}

func TestCommunitiesUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("creator updates metadata", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		err = c.Communities().Update(ctx, community.ID, &CommunityInput{
			Name:        "gophers united",
			Description: "all things Go",
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		updated, err := c.Communities().Get(ctx, community.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if updated.Name != "gophers united" || updated.Description != "all things Go" {
			t.Fatalf("unexpected community: %+v", updated)
		}
	})

	t.Run("only the creator may update", func(t *testing.T) {
		c := newTestClient(t)
		twoUsers(t, c)

		community, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := c.SignIn(ctx, "bob@example.com", "secret"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		err = c.Communities().Update(ctx, community.ID, &CommunityInput{Name: "mine now"})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestCommunitiesDiscovery(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	signUp(t, c, "ada@example.com", "Ada")

	if _, err := c.Communities().Create(ctx, &CommunityInput{Name: "gophers", Description: "all things Go"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := c.Communities().Create(ctx, &CommunityInput{Name: "inner circle", Private: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("public list excludes private", func(t *testing.T) {
		public, err := c.Communities().ListPublic(ctx, 0)
		if err != nil {
			t.Fatalf("ListPublic failed: %v", err)
		}
		if len(public) != 1 || public[0].Name != "gophers" {
			t.Fatalf("unexpected public list: %+v", public)
		}
	})

	t.Run("search matches name and description", func(t *testing.T) {
		byName, err := c.Communities().Search(ctx, "GOPH")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(byName) != 1 || byName[0].Name != "gophers" {
			t.Fatalf("unexpected matches: %+v", byName)
		}
		byDescription, err := c.Communities().Search(ctx, "things go")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(byDescription) != 1 {
			t.Fatalf("expected a description match, got %+v", byDescription)
		}
	})

	t.Run("search never reaches private communities", func(t *testing.T) {
		matches, err := c.Communities().Search(ctx, "inner")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 0 {
			t.Fatalf("expected no matches, got %+v", matches)
		}
	})
}
