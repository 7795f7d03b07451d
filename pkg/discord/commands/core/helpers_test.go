package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/storage"
	"github.com/small-frappuccino/aperture/pkg/store"
)

type replyRecorder struct {
	mu      sync.Mutex
	replies []string
	embeds  []*discordgo.MessageEmbed
}

func (r *replyRecorder) Reply(ctx context.Context, to *discordgo.Message, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *replyRecorder) ReplyEmbed(ctx context.Context, to *discordgo.Message, embed *discordgo.MessageEmbed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeds = append(r.embeds, embed)
	return nil
}

func (r *replyRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

func newTestCaches(t *testing.T) (*cache.Manager, *storage.Store) {
	t.Helper()
	s := storage.NewStore(filepath.Join(t.TempDir(), "core.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	m, err := cache.NewManager(cache.Stores{
		Prefixes:        s.Prefixes(),
		BlacklistGuilds: s.Flags(store.Guilds, store.Blacklisted),
		BlacklistUsers:  s.Flags(store.Users, store.Blacklisted),
		PremiumGuilds:   s.Flags(store.Guilds, store.Premium),
		PremiumUsers:    s.Flags(store.Users, store.Premium),
		Usage:           s.CommandStats(),
	}, cache.Options{DefaultPrefix: "a!", FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.FillAll(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	return m, s
}

func message(guildID, userID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "900",
		ChannelID: "800",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: userID},
	}
}
