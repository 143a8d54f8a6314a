// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package hopfenmatrix wraps mautrix-go to make writing Matrix bots easier.
//
// A Bot bundles a mautrix client with a config file, a database for sync
// tokens, room state and encryption keys, a command dispatcher and a handful
// of callback helpers. End-to-end encryption is always enabled; the heavy
// lifting is owned entirely by maunium.net/go/mautrix.
package hopfenmatrix

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/exzerolog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hopfenspace/hopfenmatrix/config"
)

// Bot is a Matrix bot session. Create one with New, register commands and
// event handlers, then call Run.
type Bot struct {
	Client *mautrix.Client
	Config *config.Config
	Log    zerolog.Logger
	DB     *dbutil.Database

	// ReconnectDelay is the wait between reconnect attempts when syncing
	// fails with a transient error.
	ReconnectDelay time.Duration

	crypto *cryptohelper.CryptoHelper

	commands       []*Command
	commandAliases map[string]*Command
	defaultCommand *Command

	autoJoinConfigured bool
	joinRetryDelay     time.Duration
	greeting           string
}

// New creates a bot from the given config. The config is expected to be
// validated already (config.Load does that).
func New(cfg *config.Config) (*Bot, error) {
	log, err := cfg.CompileLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "mautrix").Logger()
	client.DeviceID = cfg.Matrix.DeviceID
	client.Syncer = &retryingSyncer{client.Syncer.(*mautrix.DefaultSyncer)}

	db, err := dbutil.NewFromConfig("hopfenmatrix", cfg.Database, dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	crypto, err := cryptohelper.NewCryptoHelper(client, []byte(cfg.Encryption.PickleKey), db)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare crypto helper: %w", err)
	}

	return &Bot{
		Client: client,
		Config: cfg,
		Log:    *log,
		DB:     db,

		ReconnectDelay: 15 * time.Second,

		crypto: crypto,

		commandAliases: make(map[string]*Command),

		joinRetryDelay: time.Second,
		greeting:       cfg.Matrix.AutoJoin.Greeting,
	}, nil
}

// retryingSyncer hands sync failures straight back to Run's reconnect loop
// instead of sleeping inside SyncWithContext.
type retryingSyncer struct {
	*mautrix.DefaultSyncer
}

func (s *retryingSyncer) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	return 0, err
}

// Syncer returns the client's default syncer for direct handler registration.
func (bot *Bot) Syncer() *mautrix.DefaultSyncer {
	return bot.Client.Syncer.(*retryingSyncer).DefaultSyncer
}

// OnEvent registers a handler for all sync events.
func (bot *Bot) OnEvent(handler mautrix.EventHandler) {
	bot.Syncer().OnEvent(handler)
}

// OnEventType registers a handler for a single event type.
func (bot *Bot) OnEventType(evtType event.Type, handler mautrix.EventHandler) {
	bot.Syncer().OnEventType(evtType, handler)
}

// AutoJoinOpts configures SetAutoJoin.
type AutoJoinOpts struct {
	// AllowedRooms restricts accepted invites to the listed rooms.
	// Empty accepts invites to any room.
	AllowedRooms []id.RoomID
	// AllowedUsers restricts accepted invites to the listed inviters.
	// Empty accepts invites from anyone.
	AllowedUsers []id.UserID
	// Retries is the number of join attempts per invite. Defaults to 3.
	Retries int
	// Greeting is sent to the room after joining. Empty disables it.
	Greeting string
}

// SetAutoJoin makes the bot accept room invites automatically. Calling it
// overrides the auto_join section of the config.
func (bot *Bot) SetAutoJoin(opts AutoJoinOpts) {
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	bot.greeting = opts.Greeting
	handler := AutoJoin(bot, opts.Retries)
	var filters []Filter
	if len(opts.AllowedRooms) > 0 {
		filters = append(filters, FilterAllowedRooms(opts.AllowedRooms))
	}
	if len(opts.AllowedUsers) > 0 {
		filters = append(filters, FilterAllowedUsers(opts.AllowedUsers))
	}
	bot.OnEventType(event.StateMember, ApplyFilter(handler, filters...))
	bot.autoJoinConfigured = true
}

// Close closes the database. Call it after Run has returned.
func (bot *Bot) Close() error {
	return bot.crypto.Close()
}
