// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"net/url"
)

// avatarServiceURL generates a fallback avatar from the sender's display
// name when the backend doesn't provide one.
const avatarServiceURL = "https://ui-avatars.com/api/?background=d88413&color=FFF&name="

// Normalize converts a raw backend message into a canonical timeline entry.
// It fails with ErrNoTextPart when the part list has no inline text part;
// malformed messages are dropped upstream, never stored.
//
// Attachment resolution scans for the first attachment part. The moderation
// flag is read from attachment metadata, defaulting to false when absent,
// and is forced to false for non-image media types: only images participate
// in blur-related rendering.
func Normalize(raw RawMessage) (Message, error) {
	var text string
	var haveText bool
	var att *Attachment
	for _, part := range raw.Parts {
		switch part.Type {
		case PartTypeInline:
			if !haveText {
				text = part.Content
				haveText = true
			}
		case PartTypeAttachment:
			if att == nil && part.Attachment != nil {
				att = &Attachment{
					URL:       part.Attachment.URL,
					MediaType: part.Attachment.MediaType,
					Flagged:   attachmentFlag(part.Attachment),
				}
			}
		}
	}
	if !haveText {
		return Message{}, ErrNoTextPart
	}
	return Message{
		ID:        raw.ID,
		Text:      text,
		CreatedAt: raw.CreatedAt,
		Sender: Sender{
			ID:          raw.Sender.ID,
			DisplayName: raw.Sender.Name,
			AvatarURL:   senderAvatar(raw.Sender),
		},
		Attachment: att,
	}, nil
}

func attachmentFlag(att *RawAttachment) bool {
	if !isImageMediaType(att.MediaType) {
		return false
	}
	flagged, _ := att.CustomData[moderationFlagKey].(bool)
	return flagged
}

func senderAvatar(sender RawSender) string {
	if sender.AvatarURL != "" {
		return sender.AvatarURL
	}
	return avatarServiceURL + url.QueryEscape(sender.Name)
}
