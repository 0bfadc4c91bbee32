package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-fillers/internal/bus"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/report"
	"github.com/nats-io/nats.go"
)

var watchSubjects = []string{protocol.SubjectTranscript, protocol.SubjectCounts, protocol.SubjectState}

// watch prints daemon events until ctx is cancelled. With replay set the
// subscription is served by the JetStream event stream from its first
// retained message.
func watch(ctx context.Context, client *bus.Client, replay bool, out io.Writer) error {
	msgs := make(chan *nats.Msg, 64)
	handler := func(msg *nats.Msg) { msgs <- msg }

	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, subject := range watchSubjects {
		var (
			sub *nats.Subscription
			err error
		)
		if replay {
			sub, err = client.JetStream().Subscribe(subject, handler, nats.DeliverAll(), nats.OrderedConsumer())
		} else {
			sub, err = client.Conn().Subscribe(subject, handler)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			line, err := formatEvent(msg.Subject, msg.Data)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", msg.Subject, err)
				continue
			}
			fmt.Fprintln(out, line)
		}
	}
}

func formatEvent(subject string, data []byte) (string, error) {
	switch subject {
	case protocol.SubjectTranscript:
		var evt protocol.TranscriptEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s #%d %s: %s", evt.Timestamp.Format("15:04:05"), evt.Sequence, evt.Speaker, evt.Text), nil
	case protocol.SubjectCounts:
		var evt protocol.CountsSnapshot
		if err := json.Unmarshal(data, &evt); err != nil {
			return "", err
		}
		snap, err := evt.Snapshot()
		if err != nil {
			return "", err
		}
		return report.Table(snap), nil
	case protocol.SubjectState:
		var evt protocol.StateChange
		if err := json.Unmarshal(data, &evt); err != nil {
			return "", err
		}
		line := fmt.Sprintf("%s state=%s", evt.Timestamp.Format("15:04:05"), evt.State)
		if evt.Speaker != "" {
			line += " speaker=" + evt.Speaker
		}
		if evt.Reason != "" {
			line += " reason=" + evt.Reason
		}
		return line, nil
	default:
		return string(data), nil
	}
}
