// Package lark formats and delivers interactive cards to a Lark (Feishu)
// custom bot webhook.
package lark

// Card is the JSON body posted to a custom bot webhook.
// Timestamp and Sign are filled in by the Notifier when a signing secret is set.
type Card struct {
	MsgType   string   `json:"msg_type"`
	Card      CardBody `json:"card"`
	Timestamp string   `json:"timestamp,omitempty"`
	Sign      string   `json:"sign,omitempty"`
}

// CardBody is the card itself: a header and a list of elements.
type CardBody struct {
	Header   Header    `json:"header"`
	Elements []Element `json:"elements"`
}

// Header is the coloured title bar of a card.
type Header struct {
	Title    Text   `json:"title"`
	Template string `json:"template"`
}

// Text is a tagged text node (plain_text or lark_md).
type Text struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// Element is one card block. Only the fields for its Tag are set.
type Element struct {
	Tag     string `json:"tag"`
	Text    *Text  `json:"text,omitempty"`
	Extra   *Image `json:"extra,omitempty"`
	Content string `json:"content,omitempty"`
}

// Image is an inline image shown beside a div.
type Image struct {
	Tag    string `json:"tag"`
	ImgKey string `json:"img_key"`
	Alt    Text   `json:"alt"`
}

const (
	msgTypeInteractive = "interactive"
	headerTemplate     = "blue"
	iconAlt            = "App icon"
)

// FormatCard builds a card with title as the header and content (lark_md) as the body.
// iconURL, when set, is attached to the body block; raw, when set, is appended as a code block.
func FormatCard(title, content, iconURL, raw string) Card {
	body := Element{
		Tag:  "div",
		Text: &Text{Tag: "lark_md", Content: content},
	}
	if iconURL != "" {
		body.Extra = &Image{
			Tag:    "img",
			ImgKey: iconURL,
			Alt:    Text{Tag: "plain_text", Content: iconAlt},
		}
	}

	elements := []Element{body}
	if raw != "" {
		elements = append(elements, Element{
			Tag:     "markdown",
			Content: "```\n" + raw + "\n```",
		})
	}

	return Card{
		MsgType: msgTypeInteractive,
		Card: CardBody{
			Header: Header{
				Title:    Text{Tag: "plain_text", Content: title},
				Template: headerTemplate,
			},
			Elements: elements,
		},
	}
}

// Title returns the header text.
func (c Card) Title() string {
	return c.Card.Header.Title.Content
}

// Content returns the lark_md body text, or "" when the card has no body block.
func (c Card) Content() string {
	if len(c.Card.Elements) == 0 || c.Card.Elements[0].Text == nil {
		return ""
	}
	return c.Card.Elements[0].Text.Content
}
