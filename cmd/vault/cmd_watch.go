// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// noteEventInfo mirrors one vault change on the events socket.
type noteEventInfo struct {
	Path string    `json:"path"`
	Op   string    `json:"op"`
	Time time.Time `json:"time"`
}

// eventBatch mirrors one events-socket envelope.
type eventBatch struct {
	Type   string          `json:"type"`
	Events []noteEventInfo `json:"events,omitempty"`
}

func runWatchCommand(cmd *cobra.Command, args []string) {
	baseURL := resolveServerBaseURL()
	wsURL := httpToWSURL(baseURL) + "/v1/vault/events"

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	cancelDial()
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	ux.Info("Watching vault changes. Press Ctrl+C to stop.")

	// Closing the socket is what unblocks the read loop below.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.Close()
	}()

	for {
		var batch eventBatch
		if err := conn.ReadJSON(&batch); err != nil {
			// Socket closed, either by Ctrl+C or by the server
			return
		}
		if batch.Type != "note_events" {
			continue
		}
		for _, ev := range batch.Events {
			ux.NoteStatus(ev.Path, watchOpIcon(ev.Op), ev.Op)
		}
	}
}

// watchOpIcon picks a status icon for a vault change kind.
func watchOpIcon(op string) ux.Icon {
	switch op {
	case "create":
		return ux.IconSuccess
	case "write":
		return ux.IconNote
	case "remove":
		return ux.IconError
	case "rename":
		return ux.IconArrow
	default:
		return ux.IconBullet
	}
}
