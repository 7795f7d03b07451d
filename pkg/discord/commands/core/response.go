package core

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Embed colours.
const (
	ColorSuccess = 0x57F287
	ColorError   = 0xED4245
	ColorInfo    = 0x5865F2
)

// Responder sends replies to command messages.
type Responder interface {
	Reply(ctx context.Context, to *discordgo.Message, content string) error
	ReplyEmbed(ctx context.Context, to *discordgo.Message, embed *discordgo.MessageEmbed) error
}

// SessionResponder replies through a discordgo session. Replies never ping
// anyone and do not fail when the original message was deleted.
type SessionResponder struct {
	session *discordgo.Session
}

func NewSessionResponder(session *discordgo.Session) *SessionResponder {
	return &SessionResponder{session: session}
}

func (r *SessionResponder) Reply(ctx context.Context, to *discordgo.Message, content string) error {
	return r.send(ctx, to, &discordgo.MessageSend{Content: content})
}

func (r *SessionResponder) ReplyEmbed(ctx context.Context, to *discordgo.Message, embed *discordgo.MessageEmbed) error {
	return r.send(ctx, to, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (r *SessionResponder) send(ctx context.Context, to *discordgo.Message, msg *discordgo.MessageSend) error {
	failIfMissing := false
	msg.Reference = &discordgo.MessageReference{
		MessageID:       to.ID,
		ChannelID:       to.ChannelID,
		GuildID:         to.GuildID,
		FailIfNotExists: &failIfMissing,
	}
	msg.AllowedMentions = &discordgo.MessageAllowedMentions{}
	_, err := r.session.ChannelMessageSendComplex(to.ChannelID, msg, discordgo.WithContext(ctx))
	return err
}

// InfoEmbed builds a neutral embed.
func InfoEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: ColorInfo}
}

// SuccessEmbed builds a confirmation embed.
func SuccessEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: ColorSuccess}
}

// ErrorEmbed builds a failure embed.
func ErrorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: ColorError}
}
