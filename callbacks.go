// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Filter decides whether an event should be processed by a handler.
type Filter func(ctx context.Context, evt *event.Event) bool

// ApplyFilter wraps a handler so it only runs when all filters accept the
// event.
func ApplyFilter(handler mautrix.EventHandler, filters ...Filter) mautrix.EventHandler {
	return func(ctx context.Context, evt *event.Event) {
		for _, filter := range filters {
			if !filter(ctx, evt) {
				return
			}
		}
		handler(ctx, evt)
	}
}

// FilterAllowedRooms accepts only events from the listed rooms.
func FilterAllowedRooms(rooms []id.RoomID) Filter {
	allowed := make(map[id.RoomID]struct{}, len(rooms))
	for _, room := range rooms {
		allowed[room] = struct{}{}
	}
	return func(ctx context.Context, evt *event.Event) bool {
		_, ok := allowed[evt.RoomID]
		return ok
	}
}

// FilterAllowedUsers accepts only events sent by the listed users.
func FilterAllowedUsers(users []id.UserID) Filter {
	allowed := make(map[id.UserID]struct{}, len(users))
	for _, user := range users {
		allowed[user] = struct{}{}
	}
	return func(ctx context.Context, evt *event.Event) bool {
		_, ok := allowed[evt.Sender]
		return ok
	}
}

// FilterNotSender rejects events sent by the given user. Useful to keep a
// bot from reacting to its own messages.
func FilterNotSender(userID id.UserID) Filter {
	return func(ctx context.Context, evt *event.Event) bool {
		return evt.Sender != userID
	}
}

// DebugEvents returns a handler that logs every event it receives.
func DebugEvents() mautrix.EventHandler {
	return func(ctx context.Context, evt *event.Event) {
		zerolog.Ctx(ctx).Debug().
			Str("event_type", evt.Type.Type).
			Stringer("room_id", evt.RoomID).
			Stringer("sender", evt.Sender).
			Stringer("event_id", evt.ID).
			Msg("Received event")
	}
}

// AutoJoin returns a member event handler that accepts invites for the bot
// by joining the room, retrying up to the given number of attempts. The
// configured greeting is sent after a successful join.
//
// Usually SetAutoJoin is the more convenient way to hook this up.
func AutoJoin(bot *Bot, retries int) mautrix.EventHandler {
	return func(ctx context.Context, evt *event.Event) {
		if evt.GetStateKey() != bot.Client.UserID.String() {
			return
		}
		if evt.Content.AsMember().Membership != event.MembershipInvite {
			return
		}
		log := zerolog.Ctx(ctx).With().
			Stringer("room_id", evt.RoomID).
			Stringer("inviter", evt.Sender).
			Logger()
		log.Info().Msg("Received room invite")
		for attempt := 1; attempt <= retries; attempt++ {
			_, err := bot.Client.JoinRoomByID(ctx, evt.RoomID)
			if err == nil {
				log.Info().Msg("Joined room")
				bot.sendGreeting(ctx, evt.RoomID)
				return
			}
			log.Warn().Err(err).
				Int("attempt", attempt).
				Int("max_attempts", retries).
				Msg("Failed to join room")
			select {
			case <-ctx.Done():
				return
			case <-time.After(bot.joinRetryDelay):
			}
		}
		log.Error().Msg("Giving up on joining room")
	}
}

func (bot *Bot) sendGreeting(ctx context.Context, roomID id.RoomID) {
	if bot.greeting == "" {
		return
	}
	if err := bot.SendNotice(ctx, bot.greeting, roomID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Stringer("room_id", roomID).
			Msg("Failed to send greeting")
	}
}
