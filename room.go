// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"context"

	"maunium.net/go/mautrix/id"
)

// IsRoomPrivate reports whether the room looks like a direct chat. Matrix
// has no real concept of private chats, so a room counts as private when it
// has at most two members: the bot and one other user.
//
// The member list comes from the state store filled during sync; when that
// has nothing for the room yet, the homeserver is asked directly.
func (bot *Bot) IsRoomPrivate(ctx context.Context, roomID id.RoomID) (bool, error) {
	members, err := bot.Client.StateStore.GetRoomJoinedOrInvitedMembers(ctx, roomID)
	if err == nil && len(members) > 0 {
		return len(members) <= 2, nil
	}
	resp, err := bot.Client.JoinedMembers(ctx, roomID)
	if err != nil {
		return false, err
	}
	return len(resp.Joined) <= 2, nil
}
