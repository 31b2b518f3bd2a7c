package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/domain/queue"
	"github.com/labourcare/clinic/internal/platform/db"
	"github.com/labourcare/clinic/internal/platform/websocket"
)

const (
	snapshotMessageType = "queue.snapshot"
	initialLoadTimeout  = 10 * time.Second
)

// liveQueue pushes every projection refresh to the screens subscribed to
// that clinician's day. A new subscriber gets the current view straight away.
// Only live days can be subscribed to.
func liveQueue(board *queue.Board, hub *websocket.Hub, logger zerolog.Logger) {
	board.OnRefresh(func(snap queue.Snapshot) {
		msg, err := snapshotMessage(snap)
		if err != nil {
			logger.Error().Err(err).Str("clinician_id", snap.ClinicianID.String()).Msg("encode queue snapshot")
			return
		}
		hub.Broadcast(msg)
	})

	hub.OnSubscribe(func(topic string) (*websocket.Message, bool) {
		clinicianID, day, err := queue.ParseTopic(topic)
		if err != nil || !board.Live(day) {
			return nil, false
		}

		ctx, cancel := context.WithTimeout(context.Background(), initialLoadTimeout)
		defer cancel()
		snap, err := board.Snapshot(ctx, clinicianID, day)
		if snap.LoadedAt.IsZero() {
			// Nothing to show yet; the first successful refresh is broadcast.
			if err != nil {
				logger.Warn().Err(err).Str("topic", topic).Msg("initial queue load failed")
			}
			return nil, true
		}

		msg, err := snapshotMessage(snap)
		if err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("encode queue snapshot")
			return nil, true
		}
		return &msg, true
	})
}

func snapshotMessage(snap queue.Snapshot) (websocket.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return websocket.Message{}, err
	}
	return websocket.Message{
		Type:      snapshotMessageType,
		Topic:     snap.Topic(),
		Timestamp: snap.LoadedAt,
		Data:      data,
	}, nil
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
