// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"go.mau.fi/util/dbutil"

	// Register the sqlite3-fk-wal driver used by the default config.
	_ "go.mau.fi/util/dbutil/litestream"
	// Postgres driver for database.type postgres.
	_ "github.com/lib/pq"
)

// ChildDB returns a database handle sharing the bot's connection pool, with
// its own schema version tracked in versionTable. Bots that need their own
// tables register migrations on a dbutil.UpgradeTable and call Upgrade on
// the returned database before Run:
//
//	//go:embed *.sql
//	var rawUpgrades embed.FS
//
//	var upgrades dbutil.UpgradeTable
//	upgrades.RegisterFS(rawUpgrades)
//
//	db := bot.ChildDB("mybot_version", upgrades)
//	err := db.Upgrade(ctx)
//
// The migrations run on both SQLite and Postgres, whichever the config
// selects.
func (bot *Bot) ChildDB(versionTable string, upgrades dbutil.UpgradeTable) *dbutil.Database {
	return bot.DB.Child(versionTable, upgrades, dbutil.ZeroLogger(bot.Log.With().Str("db_section", versionTable).Logger()))
}
