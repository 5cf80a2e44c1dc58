package notifications

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Destination types.
const (
	TypeDiscord = "discord"
	TypeSlack   = "slack"
)

// ErrUnknownDestination is returned when a URL is neither a Discord nor a
// Slack webhook, or does not match an explicitly configured type.
var ErrUnknownDestination = errors.New("unknown webhook destination")

var (
	discordHosts = []string{"discord.com", "discordapp.com"}
	slackHosts   = []string{"hooks.slack.com"}
)

// DetectType classifies rawURL by its host. Discord accepts its domains and
// their subdomains (ptb., canary.); Slack only the exact webhook host.
// Returns "" when neither format matches or the URL does not parse.
func DetectType(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	for _, d := range discordHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return TypeDiscord
		}
	}
	for _, h := range slackHosts {
		if host == h {
			return TypeSlack
		}
	}
	return ""
}

// ResolveDestination returns the wire format for rawURL. An explicit type
// must agree with the URL.
func ResolveDestination(explicitType, rawURL string) (string, error) {
	detected := DetectType(rawURL)
	explicitType = strings.ToLower(strings.TrimSpace(explicitType))
	if explicitType != "" && explicitType != detected {
		return "", fmt.Errorf("%w: URL does not match webhook type %q", ErrUnknownDestination, explicitType)
	}
	if detected == "" {
		return "", fmt.Errorf("%w: URL must be a Discord or Slack webhook", ErrUnknownDestination)
	}
	return detected, nil
}

// BuildPayload renders msg in the native schema of the destination type.
func BuildPayload(kind string, ep storage.Endpoint, msg Message) (any, error) {
	switch kind {
	case TypeDiscord:
		return discordStockPayload(ep, msg), nil
	case TypeSlack:
		return slackStockPayload(ep, msg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, kind)
	}
}

// BuildTestPayload renders the connectivity test message.
func BuildTestPayload(kind string, ep storage.Endpoint, at time.Time) (any, error) {
	switch kind {
	case TypeDiscord:
		return discordTestPayload(ep, at), nil
	case TypeSlack:
		return slackTestPayload(ep, at), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, kind)
	}
}

// --------------------------------------------------------------------------
// Discord
// --------------------------------------------------------------------------

type discordPayload struct {
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embeds    []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func discordStockPayload(ep storage.Endpoint, msg Message) discordPayload {
	regionName := catalog.RegionName(msg.Region)

	fields := []discordField{
		{Name: "Plan", Value: msg.PlanCode, Inline: true},
		{Name: "Datacenter", Value: msg.Datacenter, Inline: true},
		{Name: "Region", Value: regionName, Inline: true},
	}
	if ep.IncludePrice {
		fields = append(fields, discordField{Name: "Price", Value: priceOrUnknown(msg.Price), Inline: true})
	}
	fields = append(fields,
		discordField{Name: "Out of Stock Duration", Value: fmt.Sprintf("%d minutes", msg.DwellMinutes), Inline: true},
		discordField{Name: "Order Now", Value: fmt.Sprintf("[Click here to order](%s)", purchaseURL(msg)), Inline: false},
	)

	p := discordPayload{
		Username:  orDefault(ep.BotUsername, defaultBotUsername),
		AvatarURL: ep.AvatarURL,
		Embeds: []discordEmbed{{
			Title:       fmt.Sprintf("🟢 VPS Back in Stock! (%s)", msg.Region),
			Description: fmt.Sprintf("**%s** is now available in %s!", displayName(msg), regionName),
			Color:       parseColor(ep.EmbedColor),
			Fields:      fields,
			Timestamp:   msg.At.UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: footerBrand + " • " + orDefault(ep.Name, regionName)},
		}},
	}
	if ep.MentionRoleID != "" {
		p.Content = fmt.Sprintf("<@&%s>", ep.MentionRoleID)
	}
	return p
}

func discordTestPayload(ep storage.Endpoint, at time.Time) discordPayload {
	return discordPayload{
		Username:  orDefault(ep.BotUsername, defaultBotUsername),
		AvatarURL: ep.AvatarURL,
		Embeds: []discordEmbed{{
			Title:       "🧪 Test Notification",
			Description: "This is a test notification from " + footerBrand,
			Color:       testEmbedColor,
			Fields: []discordField{
				{Name: "Status", Value: "✅ Webhook is working correctly!"},
				{Name: "Timestamp", Value: at.UTC().Format("2006-01-02 15:04:05 UTC")},
			},
			Timestamp: at.UTC().Format(time.RFC3339),
			Footer:    discordFooter{Text: footerBrand + " - Test Message"},
		}},
	}
}

// parseColor reads a hex color with an optional leading "#". Invalid input
// falls back to the default green.
func parseColor(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return defaultEmbedColor
	}
	n, err := strconv.ParseInt(s, 16, 32)
	if err != nil || n < 0 {
		return defaultEmbedColor
	}
	return int(n)
}

// --------------------------------------------------------------------------
// Slack
// --------------------------------------------------------------------------

type slackPayload struct {
	Text     string       `json:"text"`
	Blocks   []slackBlock `json:"blocks"`
	Username string       `json:"username,omitempty"`
	IconURL  string       `json:"icon_url,omitempty"`
	Channel  string       `json:"channel,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []any       `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackButton struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

func plain(s string) *slackText { return &slackText{Type: "plain_text", Text: s, Emoji: true} }
func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

func slackStockPayload(ep storage.Endpoint, msg Message) slackPayload {
	regionName := catalog.RegionName(msg.Region)
	name := displayName(msg)
	at := msg.At.UTC()

	fields := []slackText{
		mrkdwn("*Plan:*\n" + msg.PlanCode),
		mrkdwn("*Datacenter:*\n" + msg.Datacenter),
		mrkdwn("*Region:*\n" + regionName),
	}
	if ep.IncludePrice {
		fields = append(fields, mrkdwn("*Price:*\n"+priceOrUnknown(msg.Price)))
	}
	dwell := mrkdwn(fmt.Sprintf("⏱️ Out of stock for *%d minutes*", msg.DwellMinutes))
	intro := mrkdwn(fmt.Sprintf("*%s* is now available in %s!", name, regionName))

	return slackPayload{
		Text: fmt.Sprintf("🟢 %s is back in stock in %s!", name, regionName),
		Blocks: []slackBlock{
			{Type: "header", Text: plain(fmt.Sprintf("🟢 VPS Back in Stock! (%s)", msg.Region))},
			{Type: "section", Text: &intro},
			{Type: "section", Fields: fields},
			{Type: "section", Text: &dwell},
			{Type: "actions", Elements: []any{slackButton{
				Type:  "button",
				Text:  *plain("🛒 Order Now"),
				URL:   purchaseURL(msg),
				Style: "primary",
			}}},
			{Type: "context", Elements: []any{mrkdwn(fmt.Sprintf(
				"%s • %s • <!date^%d^{date_short_pretty} at {time}|%s>",
				footerBrand, orDefault(ep.Name, regionName), at.Unix(), at.Format(time.RFC3339)))}},
		},
		Username: ep.BotUsername,
		IconURL:  ep.AvatarURL,
		Channel:  ep.SlackChannel,
	}
}

func slackTestPayload(ep storage.Endpoint, at time.Time) slackPayload {
	intro := mrkdwn("This is a test notification from *" + footerBrand + "*")
	return slackPayload{
		Text: "Test Notification from " + footerBrand,
		Blocks: []slackBlock{
			{Type: "header", Text: plain("🧪 Test Notification")},
			{Type: "section", Text: &intro},
			{Type: "section", Fields: []slackText{
				mrkdwn("*Status:*\n✅ Webhook is working correctly!"),
				mrkdwn("*Timestamp:*\n" + at.UTC().Format("2006-01-02 15:04:05 UTC")),
			}},
			{Type: "context", Elements: []any{mrkdwn(footerBrand + " - Test Message")}},
		},
		Username: ep.BotUsername,
		IconURL:  ep.AvatarURL,
		Channel:  ep.SlackChannel,
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func displayName(msg Message) string {
	return orDefault(msg.DisplayName, msg.PlanCode)
}

func purchaseURL(msg Message) string {
	return orDefault(msg.PurchaseURL, catalog.PurchaseURL(msg.Region))
}

func priceOrUnknown(p string) string {
	return orDefault(p, priceUnknown)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
