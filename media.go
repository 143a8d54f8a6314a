// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MediaOpts are optional settings for the media send helpers.
type MediaOpts struct {
	// Description is the message body shown next to the media.
	// Defaults to the base name of the file.
	Description string
	// MimeType overrides the sniffed content type.
	MimeType string
	// Duration of audio or video content, stored in the file info.
	Duration time.Duration
}

// SendImage uploads the image at the given path and sends it as m.image.
// Pixel dimensions are decoded from the file when possible.
func (bot *Bot) SendImage(ctx context.Context, roomID id.RoomID, path string, opts MediaOpts) (id.EventID, error) {
	data, content, err := loadMedia(path, event.MsgImage, &opts)
	if err != nil {
		return "", err
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		content.Info.Width = cfg.Width
		content.Info.Height = cfg.Height
	}
	return bot.sendMedia(ctx, roomID, path, data, content)
}

// SendVideo uploads the video at the given path and sends it as m.video.
func (bot *Bot) SendVideo(ctx context.Context, roomID id.RoomID, path string, opts MediaOpts) (id.EventID, error) {
	data, content, err := loadMedia(path, event.MsgVideo, &opts)
	if err != nil {
		return "", err
	}
	return bot.sendMedia(ctx, roomID, path, data, content)
}

// SendAudio uploads the audio file at the given path and sends it as
// m.audio. The duration isn't probed from the file, pass it in opts if the
// receiving clients should show it.
func (bot *Bot) SendAudio(ctx context.Context, roomID id.RoomID, path string, opts MediaOpts) (id.EventID, error) {
	data, content, err := loadMedia(path, event.MsgAudio, &opts)
	if err != nil {
		return "", err
	}
	return bot.sendMedia(ctx, roomID, path, data, content)
}

// SendFile uploads an arbitrary file and sends it as m.file.
func (bot *Bot) SendFile(ctx context.Context, roomID id.RoomID, path string, opts MediaOpts) (id.EventID, error) {
	data, content, err := loadMedia(path, event.MsgFile, &opts)
	if err != nil {
		return "", err
	}
	return bot.sendMedia(ctx, roomID, path, data, content)
}

func loadMedia(path string, msgType event.MessageType, opts *MediaOpts) ([]byte, *event.MessageEventContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if opts.Description == "" {
		opts.Description = filepath.Base(path)
	}
	if opts.MimeType == "" {
		opts.MimeType = http.DetectContentType(data)
	}
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    opts.Description,
		Info: &event.FileInfo{
			MimeType: opts.MimeType,
			Size:     len(data),
			Duration: int(opts.Duration.Milliseconds()),
		},
	}
	return data, content, nil
}

// sendMedia uploads the data and sends the prepared content to the room.
// In encrypted rooms the payload itself is encrypted before the upload and
// attached as an encrypted file, the homeserver only ever sees ciphertext.
func (bot *Bot) sendMedia(ctx context.Context, roomID id.RoomID, path string, data []byte, content *event.MessageEventContent) (id.EventID, error) {
	encrypted, err := bot.Client.StateStore.IsEncrypted(ctx, roomID)
	if err != nil {
		bot.Log.Debug().Err(err).
			Stringer("room_id", roomID).
			Msg("Failed to check room encryption state, uploading as plaintext")
		encrypted = false
	}
	fileName := filepath.Base(path)
	if encrypted {
		file := attachment.NewEncryptedFile()
		file.EncryptInPlace(data)
		resp, err := bot.Client.UploadMedia(ctx, mautrix.ReqUploadMedia{
			ContentBytes: data,
			ContentType:  "application/octet-stream",
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload media: %w", err)
		}
		content.File = &event.EncryptedFileInfo{
			EncryptedFile: *file,
			URL:           resp.ContentURI.CUString(),
		}
	} else {
		resp, err := bot.Client.UploadMedia(ctx, mautrix.ReqUploadMedia{
			ContentBytes: data,
			ContentType:  content.Info.MimeType,
			FileName:     fileName,
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload media: %w", err)
		}
		content.URL = resp.ContentURI.CUString()
	}
	sendResp, err := bot.Client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return sendResp.EventID, nil
}
