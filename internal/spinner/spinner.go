// Package spinner renders a single-line animated status for terminal runs.
package spinner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const frameInterval = 80 * time.Millisecond

// Spinner is a single-line progress indicator whose message can change
// while it runs.
type Spinner struct {
	w io.Writer

	mu      sync.Mutex
	message string
	width   int

	done     chan struct{}
	cleared  chan struct{}
	stopOnce sync.Once
}

// Start displays an animated spinner with the given message on w. Update
// the text with SetMessage; call Stop to clear the line.
func Start(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		message: message,
		done:    make(chan struct{}),
		cleared: make(chan struct{}),
	}
	go s.loop()
	return s
}

// SetMessage replaces the spinner text on the next frame.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line. Safe to call twice.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.cleared
}

func (s *Spinner) loop() {
	i := 0
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			width := s.width
			s.mu.Unlock()
			fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", width)) //nolint:errcheck
			close(s.cleared)
			return
		case <-time.After(frameInterval):
			s.render(frames[i%len(frames)])
			i++
		}
	}
}

// render redraws the line, padding with spaces so a shorter message does
// not leave residue from the previous one.
func (s *Spinner) render(frame string) {
	s.mu.Lock()
	line := frame + " " + s.message
	width := runewidth.StringWidth(line)
	pad := 0
	if width < s.width {
		pad = s.width - width
	} else {
		s.width = width
	}
	s.mu.Unlock()

	fmt.Fprintf(s.w, "\r%s%s", line, strings.Repeat(" ", pad)) //nolint:errcheck
}
