package orchestrator

import (
	"github.com/relaydesk/relaydesk/internal/backend"
)

// Message is an inbound or outbound message row in the tenant backend.
type Message struct {
	ID             string `json:"id"`
	ContactID      string `json:"contact_id"`
	Content        string `json:"content"`
	Direction      string `json:"direction"`
	Channel        string `json:"channel"`
	ChannelAddress string `json:"channel_address"`
	BotToken       string `json:"bot_token"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
	Answered       bool   `json:"answered"`
}

// Contact is the subject a message belongs to.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directions for message rows.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

func messageFromRow(row backend.Row) Message {
	m := Message{
		ID:             rowString(row, "id"),
		ContactID:      rowString(row, "contact_id"),
		Content:        rowString(row, "content"),
		Direction:      rowString(row, "direction"),
		Channel:        rowString(row, "channel"),
		ChannelAddress: rowString(row, "channel_address"),
		BotToken:       rowString(row, "bot_token"),
		InReplyTo:      rowString(row, "in_reply_to"),
	}
	if answered, ok := row["answered"].(bool); ok {
		m.Answered = answered
	}
	return m
}

func contactFromRow(row backend.Row) Contact {
	name := rowString(row, "name")
	if name == "" {
		name = rowString(row, "full_name")
	}
	return Contact{
		ID:   rowString(row, "id"),
		Name: name,
	}
}

func rowString(row backend.Row, key string) string {
	value, _ := row[key].(string)
	return value
}
