// Package progress показывает ход передач в CLI: полосой прогресса в терминале
// или строками лога, если вывод перенаправлен.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"ftp_bridge/internal/events"
)

// New выбирает получателя уведомлений для вывода f
func New(f *os.File, log zerolog.Logger) events.Sink {
	if term.IsTerminal(int(f.Fd())) {
		return NewBarSink(f)
	}
	return events.LogSink{Log: log}
}

// BarSink рисует по полосе на каждую передачу
type BarSink struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[string]*progressbar.ProgressBar
}

// NewBarSink создаёт получателя, пишущего в w
func NewBarSink(w io.Writer) *BarSink {
	return &BarSink{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

func (s *BarSink) bar(token string) *progressbar.ProgressBar {
	if b, ok := s.bars[token]; ok {
		return b
	}
	w := s.w
	b := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(token),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	s.bars[token] = b
	return b
}

func (s *BarSink) Progress(token string, percentage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.bar(token).Set(percentage)
}

func (s *BarSink) Finished(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bar(token)
	delete(s.bars, token)
	if err == nil {
		_ = b.Finish()
		return
	}
	_ = b.Exit()
	fmt.Fprintf(s.w, "\nError: %v\n", err)
}
