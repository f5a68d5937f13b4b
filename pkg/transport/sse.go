package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
)

type Event struct {
	ID   string
	Name string
	Data string
}

const maxEventSize = 4 << 20

// ReadEvents parses a text/event-stream body and calls fn for every dispatched event.
// Returning a non-nil error from fn stops the read. io.EOF from fn ends it cleanly.
func ReadEvents(ctx context.Context, r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		ev   Event
		data []string
	)
	dispatch := func() error {
		if len(data) == 0 {
			ev = Event{}
			return nil
		}
		ev.Data = strings.Join(data, "\n")
		out := ev
		ev, data = Event{}, nil
		return fn(out)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := dispatch(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
