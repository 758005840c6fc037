// Package compose builds channel-specific reminder payloads. Everything
// here is a pure function of its inputs: no clock reads, no I/O, so the
// same (event, occurrence, user, channel, daysAway) always produces the
// same payload.
package compose

import (
	"fmt"
	"time"

	"giftminder/internal/domain"
)

// Urgency labels used across channels.
const (
	UrgencySoon     = "soon"
	UrgencyUpcoming = "upcoming"
)

// Discord embeds carry a fixed accent color for reminders.
const discordAccentColor = 0xF59E0B

// Payload is a composed reminder ready for one channel. Headline and Body
// are always set; exactly one channel extension is populated for webhook
// channels, mail uses Headline as subject and Body as text.
type Payload struct {
	Channel  domain.Channel
	Headline string
	Body     string
	Urgency  string
	DaysAway int

	Slack   *SlackMessage
	Discord *DiscordMessage
	Push    *PushPayload
}

type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

type SlackBlock struct {
	Type   string      `json:"type"`
	Text   *SlackText  `json:"text,omitempty"`
	Fields []SlackText `json:"fields,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []DiscordField `json:"fields,omitempty"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type PushPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Data  PushData `json:"data"`
}

type PushData struct {
	EventID   int64  `json:"event_id"`
	OccursOn  string `json:"occurs_on"`
	Person    string `json:"person"`
	EventType string `json:"event_type"`
	Urgency   string `json:"urgency"`
}

// Build composes the payload for one due reminder.
func Build(ev domain.Event, occurrence time.Time, user domain.User, ch domain.Channel, daysAway int) Payload {
	headline := fmt.Sprintf("%s for %s is %s", ev.DisplayName(), ev.PersonName, timeDescriptor(daysAway))
	body := fmt.Sprintf("Happening on %s. Budget: %s", occurrence.Format("January 2, 2006"), budgetText(ev.TargetValue))

	p := Payload{
		Channel:  ch,
		Headline: headline,
		Body:     body,
		Urgency:  urgency(daysAway),
		DaysAway: daysAway,
	}

	switch ch {
	case domain.ChannelSlack:
		p.Slack = slackMessage(p, occurrence)
	case domain.ChannelDiscord:
		p.Discord = discordMessage(p, ev, occurrence)
	case domain.ChannelPush:
		p.Push = &PushPayload{
			Title: headline,
			Body:  body,
			Data: PushData{
				EventID:   ev.ID,
				OccursOn:  occurrence.Format("2006-01-02"),
				Person:    ev.PersonName,
				EventType: ev.Type,
				Urgency:   p.Urgency,
			},
		}
	}
	return p
}

func slackMessage(p Payload, occurrence time.Time) *SlackMessage {
	return &SlackMessage{
		Text: p.Headline,
		Blocks: []SlackBlock{
			{
				Type: "section",
				Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", p.Headline, p.Body)},
			},
			{
				Type: "section",
				Fields: []SlackText{
					{Type: "mrkdwn", Text: fmt.Sprintf("*When:*\n%s", occurrence.Format("Mon, Jan 2 2006"))},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Status:*\n%s", p.Urgency)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Days away:*\n%d", p.DaysAway)},
				},
			},
		},
	}
}

func discordMessage(p Payload, ev domain.Event, occurrence time.Time) *DiscordMessage {
	return &DiscordMessage{
		Embeds: []DiscordEmbed{
			{
				Title:       p.Headline,
				Description: p.Body,
				Color:       discordAccentColor,
				Timestamp:   occurrence.UTC().Format(time.RFC3339),
				Fields: []DiscordField{
					{Name: "Event", Value: ev.DisplayName(), Inline: true},
					{Name: "Urgency", Value: p.Urgency, Inline: true},
				},
			},
		},
	}
}

func timeDescriptor(daysAway int) string {
	switch daysAway {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", daysAway)
	}
}

func urgency(daysAway int) string {
	if daysAway <= 1 {
		return UrgencySoon
	}
	return UrgencyUpcoming
}

func budgetText(target *float64) string {
	if target == nil {
		return "not set"
	}
	return fmt.Sprintf("$%.2f", *target)
}
