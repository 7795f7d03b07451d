package session

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/log"
)

// Error messages
const (
	ErrSessionCreationFailed   = "failed to create Discord session: %w"
	ErrSessionConnectionFailed = "failed to connect to Discord: %w"
)

// Intents requested by the bot. Prefix commands need message content.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentMessageContent

var (
	newSession   = func(token string) (*discordgo.Session, error) { return discordgo.New("Bot " + token) }
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates a session with the bot's intents and opens the
// gateway connection. Handlers should be added before calling Open when they
// must see READY, so callers that need that use New and Open separately.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	s, err := New(token)
	if err != nil {
		return nil, err
	}
	if err := Open(s); err != nil {
		return nil, err
	}
	return s, nil
}

// New creates a session without connecting.
func New(token string) (*discordgo.Session, error) {
	if token == "" {
		log.ErrorLoggerRaw().Error("Discord bot token is empty. Please set the token before starting the bot.")
		return nil, fmt.Errorf("discord bot token is empty")
	}

	log.DiscordLogger().Info("Creating Discord session")
	s, err := newSession(token)
	if err != nil {
		log.ErrorLoggerRaw().Error("Failed to create Discord session", "err", err)
		return nil, fmt.Errorf(ErrSessionCreationFailed, err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Open connects the session to the gateway, closing it on failure.
func Open(s *discordgo.Session) error {
	log.DiscordLogger().Info("Connecting to Discord...")
	if err := openSession(s); err != nil {
		log.ErrorLoggerRaw().Error("Failed to connect to Discord", "err", err)
		_ = closeSession(s)
		return fmt.Errorf(ErrSessionConnectionFailed, err)
	}
	log.DiscordLogger().Info("Connected to Discord successfully")
	return nil
}

// Close disconnects the session.
func Close(s *discordgo.Session) error {
	if s == nil {
		return nil
	}
	return closeSession(s)
}
