package events

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type PrinterFormat string

const (
	PrinterFormatText PrinterFormat = "text"
	PrinterFormatYAML PrinterFormat = "yaml"
)

// Printer writes a live view of the stream to w: text chunks as they arrive,
// notices and titles on their own line. In yaml format every event is dumped.
type Printer struct {
	w      io.Writer
	format PrinterFormat

	mu       sync.Mutex
	finished chan struct{}
	once     sync.Once
}

var _ EventHandler = (*Printer)(nil)

func NewPrinter(w io.Writer, format PrinterFormat) *Printer {
	return &Printer{
		w:        w,
		format:   format,
		finished: make(chan struct{}),
	}
}

// Finished is closed once a final or error event has been printed.
func (p *Printer) Finished() <-chan struct{} {
	return p.finished
}

func (p *Printer) finish() {
	p.once.Do(func() { close(p.finished) })
}

func (p *Printer) write(e Event, text func() string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == PrinterFormatYAML {
		var v map[string]interface{}
		if err := yaml.Unmarshal(e.Payload(), &v); err != nil {
			return err
		}
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "---\n%s", b)
		return err
	}

	if s := text(); s != "" {
		_, err := fmt.Fprint(p.w, s)
		return err
	}
	return nil
}

func (p *Printer) HandlePartialCompletion(_ context.Context, e *EventPartialCompletion) error {
	return p.write(e, func() string { return e.Delta })
}

func (p *Printer) HandleTitle(_ context.Context, e *EventTitle) error {
	return p.write(e, func() string { return fmt.Sprintf("\n[title] %s\n", e.DisplayTitle) })
}

func (p *Printer) HandleFinal(_ context.Context, e *EventFinal) error {
	defer p.finish()
	return p.write(e, func() string {
		if strings.HasSuffix(e.Text, "\n") {
			return ""
		}
		return "\n"
	})
}

func (p *Printer) HandleError(_ context.Context, e *EventError) error {
	defer p.finish()
	return p.write(e, func() string { return fmt.Sprintf("\n[error] %s\n", e.Text) })
}

func (p *Printer) HandleIndex(_ context.Context, e *EventIndex) error {
	return p.write(e, func() string { return "" })
}

func (p *Printer) HandleNotice(_ context.Context, e *EventNotice) error {
	return p.write(e, func() string { return fmt.Sprintf("[notice] %s\n", e.Text) })
}
