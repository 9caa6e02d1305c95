package talkbase

import (
	"context"
	"errors"
)

// ============================================================================
// CallsClient
// ============================================================================

// CallsClient handles call signaling: a call record tracks the lifecycle and
// an incoming-call marker on the callee's profile drives the ringing UI.
type CallsClient struct{ c *Client }

// Start rings receiverID from the signed-in user. The room between the two
// users is created if needed so the call has a place to land.
func (cl *CallsClient) Start(ctx context.Context, receiverID string) (*Call, error) {
	if err := cl.c.ready(); err != nil {
		return nil, err
	}
	sess := cl.c.CurrentSession()
	if sess == nil {
		return nil, ErrForbidden
	}

	room, err := cl.c.rooms.GetOrCreate(ctx, sess.UID, receiverID)
	if err != nil {
		return nil, err
	}

	call := Call{
		CallerID:   sess.UID,
		ReceiverID: receiverID,
		CallerName: sess.DisplayName,
		RoomID:     room.ID,
		Status:     CallRinging,
		StartedAt:  cl.c.docs().Now(),
	}
	id, err := cl.c.docs().Add(ctx, colCalls, call)
	if err != nil {
		return nil, transportErr("calls.start", err)
	}
	call.ID = id

	err = cl.c.docs().Update(ctx, colUsers, receiverID, map[string]any{
		"incomingCall": &CallRef{
			CallID:     id,
			CallerID:   sess.UID,
			CallerName: sess.DisplayName,
		},
	})
	if err != nil {
		return nil, transportErr("calls.start", err)
	}
	cl.c.cache.Delete(userCacheKey(receiverID))

	if err := cl.c.notifications.notifyCall(ctx, &call); err != nil {
		cl.c.logger.Warn().Err(err).Str("call", id).Msg("call notification not delivered")
	}
	cl.c.events.dispatchIncomingCall(call)
	return &call, nil
}

// End moves a ringing call to ended and clears the callee's incoming-call
// marker. Ending an already ended call is a no-op.
func (cl *CallsClient) End(ctx context.Context, callID string) error {
	if err := cl.c.ready(); err != nil {
		return err
	}
	call, err := cl.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status == CallEnded {
		return nil
	}

	err = cl.c.docs().Update(ctx, colCalls, callID, map[string]any{
		"status":  CallEnded,
		"endedAt": cl.c.docs().Now(),
	})
	if err != nil {
		return transportErr("calls.end", err)
	}

	err = cl.c.docs().Update(ctx, colUsers, call.ReceiverID, map[string]any{
		"incomingCall": nil,
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return transportErr("calls.end", err)
	}
	cl.c.cache.Delete(userCacheKey(call.ReceiverID))
	return nil
}

// Get fetches a call record.
func (cl *CallsClient) Get(ctx context.Context, callID string) (*Call, error) {
	var call Call
	if err := cl.c.docs().Get(ctx, colCalls, callID, &call); err != nil {
		return nil, transportErr("calls.get", err)
	}
	call.ID = callID
	return &call, nil
}

// SubscribeIncoming watches uid's profile for the incoming-call marker. fn
// receives the marker when a call starts ringing and nil when it clears.
func (cl *CallsClient) SubscribeIncoming(uid string, fn func(*CallRef)) (func(), error) {
	q := Query{
		Collection: colUsers,
		Filters:    []Filter{{Field: "uid", Op: "==", Value: uid}},
	}
	var last *CallRef
	return cl.c.docs().Watch(q, func(docs []Document) {
		if len(docs) == 0 {
			return
		}
		var user User
		if err := docs[0].Decode(&user); err != nil {
			cl.c.logger.Error().Err(err).Str("uid", uid).Msg("bad call snapshot")
			return
		}
		// Only edges are interesting, not every profile write.
		if sameCallRef(last, user.IncomingCall) {
			return
		}
		last = user.IncomingCall
		fn(user.IncomingCall)
	})
}

func sameCallRef(a, b *CallRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CallID == b.CallID
}
