// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// CommandFunc handles a single invocation of a command.
type CommandFunc func(ce *CommandEvent)

// Command describes a bot command. Register it with Bot.RegisterCommand
// before calling Run.
type Command struct {
	// Func is called when the command is executed.
	Func CommandFunc
	// Name is the primary name of the command. It must be lowercase.
	Name string
	// Aliases are alternative names for the command.
	Aliases []string
	// RegexAliases are regular expressions matched against the command word
	// when no exact alias matches. They're anchored automatically.
	RegexAliases []string
	// Description is a short description used in the generated help.
	Description string
	// Syntax describes the arguments of the command, without the name.
	Syntax string
	// Default marks this command as the fallback executed when the bot is
	// addressed with an unknown command. Only one command can be default.
	Default bool

	regexes []*regexp.Regexp
}

// CommandEvent contains the data of a single command invocation plus helpers
// for responding to it.
type CommandEvent struct {
	*event.Event
	Bot     *Bot
	Ctx     context.Context
	Log     *zerolog.Logger
	Handler *Command

	// Command is the lowercased command word, without the prefix.
	Command string
	// Args is the rest of the message split by whitespace.
	Args []string
	// RawArgs is the rest of the message without whitespace splitting.
	RawArgs string
}

// ShiftArg removes and returns the first argument.
func (ce *CommandEvent) ShiftArg() string {
	if len(ce.Args) == 0 {
		return ""
	}
	first := ce.Args[0]
	ce.RawArgs = strings.TrimLeft(strings.TrimPrefix(ce.RawArgs, first), " ")
	ce.Args = ce.Args[1:]
	return first
}

// Reply renders the message as markdown and sends it as a notice replying to
// the command message.
func (ce *CommandEvent) Reply(msg string, args ...any) id.EventID {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	content := format.RenderMarkdown(msg, true, false)
	content.MsgType = event.MsgNotice
	content.SetReply(ce.Event)
	resp, err := ce.Bot.Client.SendMessageEvent(ce.Ctx, ce.RoomID, event.EventMessage, &content)
	if err != nil {
		ce.Log.Err(err).Msg("Failed to send command reply")
		return ""
	}
	return resp.EventID
}

// React sends a reaction to the command message.
func (ce *CommandEvent) React(emoji string) id.EventID {
	resp, err := ce.Bot.Client.SendReaction(ce.Ctx, ce.RoomID, ce.ID, emoji)
	if err != nil {
		ce.Log.Err(err).Msg("Failed to send reaction")
		return ""
	}
	return resp.EventID
}

// RegisterCommand adds a command to the bot. Aliases must be unique across
// all registered commands and only one command may be the default.
func (bot *Bot) RegisterCommand(cmd *Command) error {
	if cmd.Func == nil {
		return fmt.Errorf("command has no handler func")
	} else if cmd.Name == "" {
		return fmt.Errorf("command has no name")
	} else if cmd.Name != strings.ToLower(cmd.Name) {
		return fmt.Errorf("command name %q must be lowercase", cmd.Name)
	}
	if cmd.Default {
		if bot.defaultCommand != nil {
			return fmt.Errorf("default command already registered (%s)", bot.defaultCommand.Name)
		}
		bot.defaultCommand = cmd
	}
	for _, alias := range append([]string{cmd.Name}, cmd.Aliases...) {
		alias = strings.ToLower(alias)
		if _, exists := bot.commandAliases[alias]; exists {
			return fmt.Errorf("alias %q is already registered", alias)
		}
		bot.commandAliases[alias] = cmd
	}
	cmd.regexes = make([]*regexp.Regexp, 0, len(cmd.RegexAliases))
	for _, pattern := range cmd.RegexAliases {
		regex, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return fmt.Errorf("invalid regex alias %q: %w", pattern, err)
		}
		cmd.regexes = append(cmd.regexes, regex)
	}
	bot.commands = append(bot.commands, cmd)
	return nil
}

// registerCommandDispatcher hooks the command handling into the syncer.
// A help command is generated unless one is registered already.
func (bot *Bot) registerCommandDispatcher() {
	if len(bot.commands) == 0 {
		return
	}
	if _, exists := bot.commandAliases["help"]; !exists {
		// Errors are impossible here, the alias is known to be free.
		_ = bot.RegisterCommand(&Command{
			Func:        bot.helpCommand,
			Name:        "help",
			Description: "Prints this help page",
		})
	}
	bot.OnEventType(event.EventMessage, bot.handleMessage)
}

// handleMessage parses a room message into a command invocation and
// dispatches it. Messages not addressed to the bot are ignored; in private
// rooms every message counts as addressed.
func (bot *Bot) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == bot.Client.UserID {
		return
	}
	content := evt.Content.AsMessage()
	if content.MsgType == event.MsgNotice || content.RelatesTo.GetReplaceID() != "" {
		return
	}
	text, addressed := bot.stripAddressing(ctx, evt.RoomID, strings.TrimSpace(content.Body))
	if !addressed || text == "" {
		return
	}

	parts := strings.Fields(text)
	ce := &CommandEvent{
		Event:   evt,
		Bot:     bot,
		Command: strings.ToLower(parts[0]),
		Args:    parts[1:],
		RawArgs: strings.TrimLeft(strings.TrimPrefix(text, parts[0]), " "),
	}

	handler := bot.findCommand(ce.Command)
	if handler == nil {
		handler = bot.defaultCommand
		if handler == nil {
			zerolog.Ctx(ctx).Debug().
				Str("command", ce.Command).
				Msg("Ignoring unknown command")
			return
		}
		// The default command gets the full input as arguments.
		ce.Args = parts
		ce.RawArgs = text
	}
	ce.Handler = handler

	log := zerolog.Ctx(ctx).With().
		Str("command", handler.Name).
		Stringer("sender", evt.Sender).
		Stringer("room_id", evt.RoomID).
		Stringer("event_id", evt.ID).
		Logger()
	ce.Log = &log
	ce.Ctx = log.WithContext(ctx)

	defer func() {
		if panicErr := recover(); panicErr != nil {
			logEvt := log.Error().
				Bytes(zerolog.ErrorStackFieldName, debug.Stack())
			if realErr, ok := panicErr.(error); ok {
				logEvt = logEvt.Err(realErr)
			} else {
				logEvt = logEvt.Any(zerolog.ErrorFieldName, panicErr)
			}
			logEvt.Msg("Panic in command handler")
		}
	}()
	log.Debug().Msg("Processing command")
	handler.Func(ce)
}

// stripAddressing decides whether the message is meant for the bot and
// removes the prefix or mention. Bare commands are accepted in private rooms.
func (bot *Bot) stripAddressing(ctx context.Context, roomID id.RoomID, text string) (string, bool) {
	prefix := bot.Config.Matrix.CommandPrefix
	if strings.HasPrefix(text, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(text, prefix)), true
	}
	userID := bot.Client.UserID
	if userID == "" {
		userID = bot.Config.Matrix.UserID
	}
	localpart, _, _ := userID.Parse()
	for _, mention := range []string{userID.String() + ":", userID.String(), localpart + ":"} {
		if strings.HasPrefix(text, mention) {
			return strings.TrimSpace(strings.TrimPrefix(text, mention)), true
		}
	}
	if private, err := bot.IsRoomPrivate(ctx, roomID); err == nil && private {
		return text, true
	}
	return "", false
}

func (bot *Bot) findCommand(word string) *Command {
	if cmd, ok := bot.commandAliases[word]; ok {
		return cmd
	}
	for _, cmd := range bot.commands {
		for _, regex := range cmd.regexes {
			if regex.MatchString(word) {
				return cmd
			}
		}
	}
	return nil
}

// helpCommand is the generated help page listing all registered commands.
func (bot *Bot) helpCommand(ce *CommandEvent) {
	var sb strings.Builder
	name := bot.Config.Matrix.DisplayName
	if name == "" {
		name, _, _ = bot.Config.Matrix.UserID.Parse()
	}
	fmt.Fprintf(&sb, "**%s** - available commands:\n\n", name)
	prefix := bot.Config.Matrix.CommandPrefix
	for _, cmd := range bot.commands {
		fmt.Fprintf(&sb, "* `%s%s", prefix, cmd.Name)
		if cmd.Syntax != "" {
			fmt.Fprintf(&sb, " %s", cmd.Syntax)
		}
		sb.WriteString("`")
		if cmd.Description != "" {
			fmt.Fprintf(&sb, " - %s", cmd.Description)
		}
		if len(cmd.Aliases) > 0 {
			fmt.Fprintf(&sb, " (aliases: %s)", strings.Join(cmd.Aliases, ", "))
		}
		sb.WriteString("\n")
	}
	ce.Reply(sb.String())
}
