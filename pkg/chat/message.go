// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"strings"
	"time"
)

// MessageID is the backend-assigned message identifier. IDs are numeric and
// monotonically increasing with creation order across the whole room history,
// so they double as the timeline ordering key and the pagination cursor.
type MessageID int64

// Message part type tags as they appear on the wire. A valid message carries
// exactly one inline part; an attachment part is optional.
const (
	PartTypeInline     = "inline"
	PartTypeAttachment = "attachment"
)

// moderationFlagKey is the attachment metadata key carrying the sender-side
// moderation decision.
const moderationFlagKey = "moderation_flagged"

// RawSender is the sender block of a raw backend message.
type RawSender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// RawAttachment is the attachment block of a raw attachment part.
// CustomData carries backend-side metadata; the only key the engine reads is
// "moderation_flagged".
type RawAttachment struct {
	URL        string         `json:"url"`
	MediaType  string         `json:"media_type"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// RawPart is one part of a raw backend message: a two-case tagged variant
// discriminated by Type. Inline parts carry Content, attachment parts carry
// Attachment.
type RawPart struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	Attachment *RawAttachment `json:"attachment,omitempty"`
}

// RawMessage is a message as delivered by the chat transport, either via a
// live push or a backward-pagination fetch.
type RawMessage struct {
	ID        MessageID `json:"id"`
	Sender    RawSender `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Parts     []RawPart `json:"parts"`
}

// Sender identifies the author of a canonical message.
type Sender struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Attachment is the resolved attachment of a canonical message. Flagged is
// only ever true for image media types; renderers obscure flagged images.
type Attachment struct {
	URL       string
	MediaType string
	Flagged   bool
}

// Message is an immutable canonical timeline entry. The store hands out value
// copies, so holders can't mutate timeline state.
type Message struct {
	ID         MessageID
	Text       string
	CreatedAt  time.Time
	Sender     Sender
	Attachment *Attachment
}

// OutboundAttachment is the attachment case of an outbound message part.
type OutboundAttachment struct {
	EncodedContent string `json:"encoded_content"`
	DisplayName    string `json:"display_name"`
	MediaType      string `json:"media_type"`
	Flagged        bool   `json:"moderation_flagged"`
}

// OutboundPart is one part of an outbound payload, tagged the same way as
// RawPart.
type OutboundPart struct {
	Type       string              `json:"type"`
	Content    string              `json:"content,omitempty"`
	Attachment *OutboundAttachment `json:"attachment,omitempty"`
}

// TextPart builds the inline text part every outbound payload carries.
func TextPart(content string) OutboundPart {
	return OutboundPart{Type: PartTypeInline, Content: content}
}

// AttachmentPart builds the outbound attachment part for a staged attachment
// whose moderation decision has been resolved.
func AttachmentPart(att PendingAttachment) OutboundPart {
	return OutboundPart{
		Type: PartTypeAttachment,
		Attachment: &OutboundAttachment{
			EncodedContent: att.EncodedContent,
			DisplayName:    att.DisplayName,
			MediaType:      att.MediaType,
			Flagged:        att.Decision == DecisionFlagged,
		},
	}
}

// isImageMediaType reports whether a media type participates in moderation
// scoring and blur-related rendering.
func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
