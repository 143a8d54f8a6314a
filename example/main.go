// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// An example echo bot. On first run it writes a default config file, fill
// that in and start it again. The bot joins rooms it gets invited to,
// answers !echo and !help, and the terminal doubles as a tiny client for
// sending messages to the most recently active room.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/chzyer/readline"
	flag "maunium.net/go/mauflag"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hopfenspace/hopfenmatrix"
	"github.com/hopfenspace/hopfenmatrix/config"
)

var configPath = flag.MakeFull("c", "config", "The path to the config file.", "config.yaml").String()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles("hopfenmatrix example bot", "example [-c config.yaml]")
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrConfigCreated) {
		fmt.Printf("Wrote default config to %s, fill it in and start the bot again.\n", *configPath)
		return
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	bot, err := hopfenmatrix.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create bot:", err)
		os.Exit(1)
	}

	err = bot.RegisterCommand(&hopfenmatrix.Command{
		Name:        "echo",
		Description: "Echoes the given text back",
		Syntax:      "<text>",
		Default:     true,
		Func: func(ce *hopfenmatrix.CommandEvent) {
			if ce.RawArgs == "" {
				ce.Reply("Nothing to echo. Try `!echo something`.")
				return
			}
			ce.Reply(ce.RawArgs)
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to register command:", err)
		os.Exit(1)
	}

	rl, err := readline.New("[no room]> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rl.Close()
	stdout := rl.Stdout()

	var lastRoomID id.RoomID
	bot.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		lastRoomID = evt.RoomID
		rl.SetPrompt(fmt.Sprintf("%s> ", lastRoomID))
		fmt.Fprintf(stdout, "<%s> %s\n", evt.Sender, evt.Content.AsMessage().Body)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stdout, "Bot stopped:", err)
		}
	}()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF
			break
		}
		if line == "" {
			continue
		}
		if lastRoomID == "" {
			fmt.Fprintln(stdout, "Wait for an incoming message before sending")
			continue
		}
		if err = bot.SendMessage(ctx, line, lastRoomID); err != nil {
			fmt.Fprintln(stdout, "Failed to send:", err)
		}
	}
	cancel()
	wg.Wait()
	if err = bot.Close(); err != nil {
		fmt.Fprintln(stdout, "Error closing database:", err)
	}
}
