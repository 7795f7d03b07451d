package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/small-frappuccino/aperture/pkg/store"
)

// Snowflakes are unsigned in the API but stored in signed BIGINT columns.
func toID(id uint64) int64   { return int64(id) }
func fromID(id int64) uint64 { return uint64(id) }

// PrefixTable reads and writes the prefixes table.
type PrefixTable struct {
	s *Store
}

// Prefixes returns the prefixes table adapter.
func (s *Store) Prefixes() *PrefixTable { return &PrefixTable{s: s} }

// Load returns the stored prefix for a guild.
func (t *PrefixTable) Load(ctx context.Context, guildID uint64) (string, bool, error) {
	var prefix string
	ok, err := t.s.FetchRow(ctx, `SELECT prefix FROM prefixes WHERE guild_id = ?`, []any{toID(guildID)}, &prefix)
	if err != nil || !ok {
		return "", false, err
	}
	return prefix, true, nil
}

// Save sets the prefix for a guild, replacing any existing one.
func (t *PrefixTable) Save(ctx context.Context, guildID uint64, prefix string) error {
	_, err := t.s.Execute(ctx,
		`INSERT INTO prefixes (guild_id, prefix) VALUES (?, ?)
         ON CONFLICT (guild_id) DO UPDATE SET prefix = excluded.prefix`,
		toID(guildID), prefix,
	)
	return err
}

// SaveIfAbsent inserts prefix for a guild unless a row already exists, and
// returns whichever prefix is stored afterwards. It is a single statement so
// concurrent callers for the same guild agree on the result.
func (t *PrefixTable) SaveIfAbsent(ctx context.Context, guildID uint64, prefix string) (string, error) {
	var stored string
	ok, err := t.s.FetchRow(ctx,
		`INSERT INTO prefixes (guild_id, prefix) VALUES (?, ?)
         ON CONFLICT (guild_id) DO UPDATE SET prefix = prefixes.prefix
         RETURNING prefix`,
		[]any{toID(guildID), prefix}, &stored,
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &OpError{Op: "save_if_absent", Err: fmt.Errorf("upsert returned no row for guild %d", guildID)}
	}
	return stored, nil
}

// Delete removes the prefix row for a guild. Deleting a missing row is not an error.
func (t *PrefixTable) Delete(ctx context.Context, guildID uint64) error {
	_, err := t.s.Execute(ctx, `DELETE FROM prefixes WHERE guild_id = ?`, toID(guildID))
	return err
}

// LoadAll calls each for every stored prefix.
func (t *PrefixTable) LoadAll(ctx context.Context, each func(guildID uint64, prefix string)) error {
	return t.s.Fetch(ctx, `SELECT guild_id, prefix FROM prefixes`, func(row Scanner) error {
		var (
			id     int64
			prefix string
		)
		if err := row.Scan(&id, &prefix); err != nil {
			return &OpError{Op: "fetch", Err: err}
		}
		each(fromID(id), prefix)
		return nil
	})
}

// FlagTable reads and writes one boolean column of guilds_core or users_core.
type FlagTable struct {
	s      *Store
	entity store.Entity
	flag   store.Flag
	table  string
	key    string
	column string
}

// Flags returns the adapter for the given entity table and flag column.
func (s *Store) Flags(entity store.Entity, flag store.Flag) *FlagTable {
	t := &FlagTable{s: s, entity: entity, flag: flag, table: "guilds_core", key: "guild_id", column: "blacklisted"}
	if entity == store.Users {
		t.table, t.key = "users_core", "user_id"
	}
	if flag == store.Premium {
		t.column = "premium"
	}
	return t
}

func (t *FlagTable) Entity() store.Entity { return t.entity }
func (t *FlagTable) Flag() store.Flag     { return t.flag }

// SetFlag sets the column for id. Turning a flag on upserts the row;
// turning it off only updates an existing row, so an unknown id is a no-op.
func (t *FlagTable) SetFlag(ctx context.Context, id uint64, on bool) error {
	var query string
	if on {
		query = fmt.Sprintf(
			`INSERT INTO %[1]s (%[2]s, %[3]s) VALUES (?, TRUE)
             ON CONFLICT (%[2]s) DO UPDATE SET %[3]s = TRUE`,
			t.table, t.key, t.column)
	} else {
		query = fmt.Sprintf(`UPDATE %s SET %s = FALSE WHERE %s = ?`, t.table, t.column, t.key)
	}
	_, err := t.s.Execute(ctx, query, toID(id))
	return err
}

// IsFlagged reads the column for a single id straight from the database.
func (t *FlagTable) IsFlagged(ctx context.Context, id uint64) (bool, error) {
	var on bool
	ok, err := t.s.FetchRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, t.column, t.table, t.key),
		[]any{toID(id)}, &on,
	)
	if err != nil || !ok {
		return false, err
	}
	return on, nil
}

// ListFlagged returns every id whose column is true.
func (t *FlagTable) ListFlagged(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := t.s.Fetch(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s = TRUE`, t.key, t.table, t.column), func(row Scanner) error {
		var id int64
		if err := row.Scan(&id); err != nil {
			return &OpError{Op: "fetch", Err: err}
		}
		ids = append(ids, fromID(id))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CommandStatsTable appends to and aggregates command_stats.
type CommandStatsTable struct {
	s *Store
}

// CommandStats returns the command_stats adapter.
func (s *Store) CommandStats() *CommandStatsTable { return &CommandStatsTable{s: s} }

// InsertCommandStats writes a batch of usage events in one transaction.
func (t *CommandStatsTable) InsertCommandStats(ctx context.Context, events []store.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var guild any
		if e.GuildID != 0 {
			guild = toID(e.GuildID)
		}
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		rows = append(rows, []any{e.Name, string(e.Type), toID(e.UserID), guild, at.UTC()})
	}
	return t.s.ExecuteMany(ctx,
		`INSERT INTO command_stats (name, type, user_id, guild_id, used_at) VALUES (?, ?, ?, ?, ?)`,
		rows,
	)
}

// Count returns the number of stored usage rows.
func (t *CommandStatsTable) Count(ctx context.Context) (int64, error) {
	var n int64
	_, err := t.s.FetchRow(ctx, `SELECT COUNT(*) FROM command_stats`, nil, &n)
	return n, err
}

// TopCommands returns the most used commands, optionally limited to one guild
// (guildID 0 means every guild and direct messages).
func (t *CommandStatsTable) TopCommands(ctx context.Context, guildID uint64, limit int) ([]store.CommandCount, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT name, COUNT(*), COUNT(DISTINCT user_id) FROM command_stats`
	args := []any{}
	if guildID != 0 {
		query += ` WHERE guild_id = ?`
		args = append(args, toID(guildID))
	}
	query += ` GROUP BY name ORDER BY COUNT(*) DESC, name ASC LIMIT ?`
	args = append(args, limit)

	var out []store.CommandCount
	err := t.s.Fetch(ctx, query, func(row Scanner) error {
		var c store.CommandCount
		if err := row.Scan(&c.Name, &c.Uses, &c.Users); err != nil {
			return &OpError{Op: "fetch", Err: err}
		}
		out = append(out, c)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
