package telegramhelper

import (
	"context"
	"fmt"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/rs/zerolog/log"
	"github.com/zelenin/go-tdlib/client"
	"golang.org/x/time/rate"
)

// historyPageSize is the largest page GetChatHistory serves.
const historyPageSize = 100

// Fetcher resolves public channels and reads their recent history over a
// TDLib session.
type Fetcher struct {
	client  TDLibClient
	limiter *rate.Limiter
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithPageLimiter paces GetChatHistory calls. A nil limiter disables pacing.
func WithPageLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

// NewFetcher wraps an authorized TDLib client. By default history pages are
// requested at most a few times per second.
func NewFetcher(c TDLibClient, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  c,
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchChannel resolves the public username id and returns its metadata with
// up to maxMessages of its newest messages. Messages without text or links
// are dropped.
func (f *Fetcher) FetchChannel(ctx context.Context, id string, maxMessages int) (*model.Channel, error) {
	chat, err := f.client.SearchPublicChat(&client.SearchPublicChatRequest{Username: id})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel username %s: %w", id, err)
	}
	if chat == nil {
		return nil, fmt.Errorf("channel %s not found", id)
	}

	ch := &model.Channel{
		ID:       chat.Id,
		Username: id,
		Title:    chat.Title,
	}

	members, err := f.memberCount(chat)
	if err != nil {
		log.Warn().Err(err).Str("channel", id).Msg("Failed to get member count")
	}
	ch.Participants = members

	msgs, err := f.history(ctx, chat.Id, id, maxMessages)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if converted, ok := convertMessage(m); ok {
			ch.Messages = append(ch.Messages, converted)
		}
	}

	log.Info().
		Str("channel", id).
		Int("participants", ch.Participants).
		Int("messages", len(ch.Messages)).
		Msg("Fetched channel")
	return ch, nil
}

// memberCount returns 0 for chats that are neither supergroups nor basic
// groups.
func (f *Fetcher) memberCount(chat *client.Chat) (int, error) {
	switch v := chat.Type.(type) {
	case *client.ChatTypeSupergroup:
		fullInfo, err := f.client.GetSupergroupFullInfo(&client.GetSupergroupFullInfoRequest{
			SupergroupId: v.SupergroupId,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to get supergroup info: %w", err)
		}
		return int(fullInfo.MemberCount), nil
	case *client.ChatTypeBasicGroup:
		fullInfo, err := f.client.GetBasicGroupFullInfo(&client.GetBasicGroupFullInfoRequest{
			BasicGroupId: v.BasicGroupId,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to get basic group info: %w", err)
		}
		return len(fullInfo.Members), nil
	default:
		return 0, nil
	}
}

// history pages backwards from the newest message until maxMessages have
// been read or the history runs out.
func (f *Fetcher) history(ctx context.Context, chatID int64, name string, maxMessages int) ([]*client.Message, error) {
	var all []*client.Message
	var fromMessageID, oldestMessageID int64

	for maxMessages <= 0 || len(all) < maxMessages {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		limit := historyPageSize
		if maxMessages > 0 && maxMessages-len(all) < limit {
			limit = maxMessages - len(all)
		}

		log.Debug().Msgf("Fetching message batch for channel %s starting from ID %d", name, fromMessageID)
		page, err := f.client.GetChatHistory(&client.GetChatHistoryRequest{
			ChatId:        chatID,
			FromMessageId: fromMessageID,
			Limit:         int32(limit),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get chat history for %s: %w", name, err)
		}
		if page == nil || len(page.Messages) == 0 {
			break
		}

		for _, msg := range page.Messages {
			if msg == nil {
				continue
			}
			all = append(all, msg)
			if maxMessages > 0 && len(all) == maxMessages {
				break
			}
		}

		last := page.Messages[len(page.Messages)-1]
		if last == nil || last.Id == oldestMessageID {
			break
		}
		oldestMessageID = last.Id
		fromMessageID = last.Id
	}

	log.Debug().Msgf("Fetched a total of %d messages for channel %s", len(all), name)
	return all, nil
}

// convertMessage keeps text messages and media captions. URLs hidden behind
// link text end up in Links.
func convertMessage(m *client.Message) (model.Message, bool) {
	ft := formattedText(m.Content)
	if ft == nil {
		return model.Message{}, false
	}

	out := model.Message{
		ID:   m.Id,
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: ft.Text,
	}
	for _, e := range ft.Entities {
		if e == nil {
			continue
		}
		if u, ok := e.Type.(*client.TextEntityTypeTextUrl); ok && u.Url != "" {
			out.Links = append(out.Links, u.Url)
		}
	}
	if m.InteractionInfo != nil {
		out.Views = int(m.InteractionInfo.ViewCount)
		out.Forwards = int(m.InteractionInfo.ForwardCount)
	}

	if out.Text == "" && len(out.Links) == 0 {
		return model.Message{}, false
	}
	return out, true
}

func formattedText(content client.MessageContent) *client.FormattedText {
	switch c := content.(type) {
	case *client.MessageText:
		return c.Text
	case *client.MessagePhoto:
		return c.Caption
	case *client.MessageVideo:
		return c.Caption
	case *client.MessageDocument:
		return c.Caption
	case *client.MessageAnimation:
		return c.Caption
	case *client.MessageAudio:
		return c.Caption
	case *client.MessageVoiceNote:
		return c.Caption
	default:
		return nil
	}
}
