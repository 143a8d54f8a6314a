// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// SendMessage renders the message as markdown and sends it as m.text to all
// given rooms. Outgoing events are encrypted automatically in encrypted
// rooms (the client's crypto helper takes care of that).
func (bot *Bot) SendMessage(ctx context.Context, message string, rooms ...id.RoomID) error {
	content := format.RenderMarkdown(message, true, false)
	return bot.SendCustomMessage(ctx, &content, rooms...)
}

// SendNotice is SendMessage with msgtype m.notice, which clients show
// without notifying anyone. The usual choice for bot output.
func (bot *Bot) SendNotice(ctx context.Context, message string, rooms ...id.RoomID) error {
	content := format.RenderMarkdown(message, true, false)
	content.MsgType = event.MsgNotice
	return bot.SendCustomMessage(ctx, &content, rooms...)
}

// SendHTML sends a message with an explicit HTML formatted body. The plain
// body is the fallback for clients without HTML support.
func (bot *Bot) SendHTML(ctx context.Context, body, formattedBody string, rooms ...id.RoomID) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formattedBody,
	}
	return bot.SendCustomMessage(ctx, &content, rooms...)
}

// SendReply sends a markdown-rendered notice as a rich reply to the given
// event.
func (bot *Bot) SendReply(ctx context.Context, message string, inReplyTo *event.Event) (id.EventID, error) {
	content := format.RenderMarkdown(message, true, false)
	content.MsgType = event.MsgNotice
	content.SetReply(inReplyTo)
	resp, err := bot.Client.SendMessageEvent(ctx, inReplyTo.RoomID, event.EventMessage, &content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// SendEmote sends an m.emote message ("/me ..." style).
func (bot *Bot) SendEmote(ctx context.Context, emote string, rooms ...id.RoomID) error {
	content := format.RenderMarkdown(emote, true, false)
	content.MsgType = event.MsgEmote
	return bot.SendCustomMessage(ctx, &content, rooms...)
}

// SendLocation sends an m.location message with the given geo URI
// (e.g. "geo:48.13,11.57").
func (bot *Bot) SendLocation(ctx context.Context, description, geoURI string, rooms ...id.RoomID) error {
	content := event.MessageEventContent{
		MsgType: event.MsgLocation,
		Body:    description,
		GeoURI:  geoURI,
	}
	return bot.SendCustomMessage(ctx, &content, rooms...)
}

// SendReaction reacts to an event with the given emoji.
func (bot *Bot) SendReaction(ctx context.Context, roomID id.RoomID, eventID id.EventID, reaction string) (id.EventID, error) {
	resp, err := bot.Client.SendReaction(ctx, roomID, eventID, reaction)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// SendCustomMessage sends an arbitrary m.room.message content to all given
// rooms. Failures are logged per room and joined into the returned error,
// rooms after a failed one are still attempted.
func (bot *Bot) SendCustomMessage(ctx context.Context, content *event.MessageEventContent, rooms ...id.RoomID) error {
	var errs []error
	for _, roomID := range rooms {
		_, err := bot.Client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
		if err != nil {
			bot.Log.Err(err).Stringer("room_id", roomID).Msg("Failed to send message")
			errs = append(errs, fmt.Errorf("sending to %s: %w", roomID, err))
		}
	}
	return errors.Join(errs...)
}
