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
	"time"

	"maunium.net/go/mautrix"
)

// ErrBadCredentials is returned by Run when the homeserver rejects the
// configured credentials. Retrying won't help, the config needs fixing.
var ErrBadCredentials = errors.New("homeserver rejected the credentials")

// Run logs in, applies the configured auto-join behavior, registers the
// command dispatcher and then syncs until the context is canceled or a
// non-recoverable error occurs. Transient sync errors are retried after
// ReconnectDelay.
func (bot *Bot) Run(ctx context.Context) error {
	bot.registerCommandDispatcher()
	if bot.Config.Matrix.AutoJoin.Enabled && !bot.autoJoinConfigured {
		bot.SetAutoJoin(AutoJoinOpts{
			AllowedRooms: bot.Config.Matrix.AutoJoin.AllowedRooms,
			AllowedUsers: bot.Config.Matrix.AutoJoin.AllowedUsers,
			Greeting:     bot.Config.Matrix.AutoJoin.Greeting,
		})
	}
	// Skip the event backlog delivered by the initial sync.
	bot.Syncer().OnSync(bot.Client.DontProcessOldEvents)

	if err := bot.login(ctx); err != nil {
		return err
	}
	if err := bot.ensureDisplayName(ctx); err != nil {
		bot.Log.Warn().Err(err).Msg("Failed to update display name")
	}

	bot.Log.Info().
		Stringer("user_id", bot.Client.UserID).
		Stringer("device_id", bot.Client.DeviceID).
		Msg("Starting sync loop")
	for {
		err := bot.Client.SyncWithContext(ctx)
		if err == nil {
			// Another sync took over, nothing left to do here.
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else if errors.Is(err, mautrix.MUnknownToken) {
			return fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
		bot.Log.Warn().Err(err).
			Dur("retry_in", bot.ReconnectDelay).
			Msg("Sync failed, waiting before reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bot.ReconnectDelay):
		}
	}
}

// login initializes the crypto helper, which also performs the password
// login when no access token is configured. Device IDs are restored from the
// crypto store, so a bot keeps its device across restarts.
func (bot *Bot) login(ctx context.Context) error {
	cfg := &bot.Config.Matrix
	if cfg.AccessToken == "" {
		localpart, _, err := cfg.UserID.Parse()
		if err != nil {
			return fmt.Errorf("invalid user ID in config: %w", err)
		}
		bot.crypto.LoginAs = &mautrix.ReqLogin{
			Type:                     mautrix.AuthTypePassword,
			Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: localpart},
			Password:                 cfg.Password,
			InitialDeviceDisplayName: cfg.DeviceName,
			StoreCredentials:         true,
		}
	} else {
		whoami, err := bot.Client.Whoami(ctx)
		if err != nil {
			if errors.Is(err, mautrix.MUnknownToken) {
				return fmt.Errorf("%w: %v", ErrBadCredentials, err)
			}
			return fmt.Errorf("failed to verify access token: %w", err)
		} else if whoami.UserID != cfg.UserID {
			return fmt.Errorf("%w: access token belongs to %s, not %s", ErrBadCredentials, whoami.UserID, cfg.UserID)
		}
	}
	if err := bot.crypto.Init(ctx); err != nil {
		if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MUnknownToken) {
			return fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	bot.Client.Crypto = bot.crypto
	bot.Log.Info().Stringer("user_id", bot.Client.UserID).Msg("Logged in")
	return nil
}

func (bot *Bot) ensureDisplayName(ctx context.Context) error {
	want := bot.Config.Matrix.DisplayName
	if want == "" {
		return nil
	}
	resp, err := bot.Client.GetOwnDisplayName(ctx)
	if err != nil {
		return err
	}
	if resp.DisplayName == want {
		return nil
	}
	return bot.Client.SetDisplayName(ctx, want)
}
