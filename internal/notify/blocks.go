package notify

import "github.com/slack-go/slack"

// JoinButtonLabel is the text of the button linking to a room.
const JoinButtonLabel = "🔗 Join Doxy.me Call"

// JoinBlocks renders a markdown headline followed by a primary button that
// opens roomURL.
func JoinBlocks(headline, roomURL string) []slack.Block {
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, headline, false, false),
		nil, nil,
	)
	button := slack.NewButtonBlockElement("join_call", "join",
		slack.NewTextBlockObject(slack.PlainTextType, JoinButtonLabel, true, false),
	).WithURL(roomURL).WithStyle(slack.StylePrimary)
	return []slack.Block{section, slack.NewActionBlock("", button)}
}
