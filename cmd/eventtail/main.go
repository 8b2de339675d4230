// Command eventtail prints transcription lifecycle events from Kafka as they
// arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"voicetotext-service/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "voicetotext.transcription.events", "Lifecycle event topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	eventType := flag.String("type", "", "Only show this event type")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Partition reader without a consumer group; events are keyed by id so
	// one partition is enough for local use.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(*brokers, ","),
		Topic:     *topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-*since)); err != nil {
		log.Printf("Could not seek to %v ago, reading from the last offset: %v", *since, err)
	}
	log.Printf("Consuming %s partition 0", *topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("Kafka read error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var ev models.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("Skipping malformed event at offset %d: %v", msg.Offset, err)
			continue
		}
		if *eventType != "" && ev.EventType != *eventType {
			continue
		}
		fmt.Fprintln(os.Stdout, format(ev, header(msg, "principal")))
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func format(ev models.Event, principal string) string {
	var b strings.Builder
	ts := time.UnixMilli(ev.Timestamp).Format(time.RFC3339)
	fmt.Fprintf(&b, "%s %-24s", ts, ev.EventType)
	if ev.RecordID != "" {
		fmt.Fprintf(&b, " record=%s", ev.RecordID)
	}
	if ev.JobID != "" {
		fmt.Fprintf(&b, " job=%s", ev.JobID)
	}
	if ev.FileName != "" {
		fmt.Fprintf(&b, " file=%q", ev.FileName)
	}
	if ev.DurationSeconds > 0 {
		fmt.Fprintf(&b, " duration=%.1fs", ev.DurationSeconds)
	}
	if ev.Segments > 0 {
		fmt.Fprintf(&b, " segments=%d", ev.Segments)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, " error=%q", ev.Error)
	}
	if principal != "" {
		fmt.Fprintf(&b, " by=%s", principal)
	}
	return b.String()
}
