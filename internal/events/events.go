// Package events описывает получателя уведомлений о ходе передач.
// Ядро только вызывает Sink и не знает, как уведомления показываются.
package events

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/ftperr"
)

// Sink получает уведомления о передачах. Вызывается из горутины передачи,
// поэтому реализации должны быть безопасны для параллельного использования.
type Sink interface {
	// Progress вызывается, когда процент по токену строго вырос
	Progress(token string, percentage int)
	// Finished вызывается один раз после снятия задачи с учёта; err == nil при успехе
	Finished(token string, err error)
}

// Discard ничего не делает
type Discard struct{}

func (Discard) Progress(string, int)   {}
func (Discard) Finished(string, error) {}

// Funcs адаптирует функции к интерфейсу Sink
type Funcs struct {
	OnProgress func(token string, percentage int)
	OnFinished func(token string, err error)
}

func (f Funcs) Progress(token string, percentage int) {
	if f.OnProgress != nil {
		f.OnProgress(token, percentage)
	}
}

func (f Funcs) Finished(token string, err error) {
	if f.OnFinished != nil {
		f.OnFinished(token, err)
	}
}

// Multi рассылает уведомления нескольким получателям по порядку
type Multi []Sink

func (m Multi) Progress(token string, percentage int) {
	for _, s := range m {
		s.Progress(token, percentage)
	}
}

func (m Multi) Finished(token string, err error) {
	for _, s := range m {
		s.Finished(token, err)
	}
}

// LogSink пишет уведомления в лог
type LogSink struct {
	Log zerolog.Logger
}

func (l LogSink) Progress(token string, percentage int) {
	l.Log.Debug().Str("token", token).Int("percentage", percentage).Msg("send progress")
}

func (l LogSink) Finished(token string, err error) {
	switch ftperr.KindOf(err) {
	case nil:
		if err != nil {
			l.Log.Error().Err(err).Str("token", token).Msg("transfer failed")
			return
		}
		l.Log.Info().Str("token", token).Msg("transfer completed")
	case ftperr.ErrCancelled:
		l.Log.Info().Str("token", token).Msg("transfer cancelled")
	default:
		l.Log.Error().Err(err).Str("token", token).Msg("transfer failed")
	}
}

// State представляет итоговое или текущее состояние передачи в Store
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Snapshot хранит последнее известное состояние передачи
type Snapshot struct {
	Token      string
	Percentage int
	State      State
	Err        error
}

// Store запоминает последний процент и итог каждой передачи,
// чтобы внешние клиенты могли опрашивать их после завершения.
type Store struct {
	mu    sync.RWMutex
	items map[string]Snapshot
	limit int
	order []string
}

// NewStore создаёт хранилище, помнящее не более limit завершённых передач
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{items: make(map[string]Snapshot), limit: limit}
}

func (s *Store) Progress(token string, percentage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.items[token]
	if !ok || snap.State != StateRunning {
		snap = Snapshot{Token: token, State: StateRunning}
	}
	snap.Percentage = percentage
	s.items[token] = snap
}

func (s *Store) Finished(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.items[token]
	snap.Token = token
	snap.Err = err
	switch {
	case err == nil:
		snap.State = StateCompleted
	case ftperr.KindOf(err) == ftperr.ErrCancelled:
		snap.State = StateCancelled
	default:
		snap.State = StateFailed
	}
	s.items[token] = snap

	// повторно использованный токен переезжает в конец очереди
	if i := slices.Index(s.order, token); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.order = append(s.order, token)
	for len(s.order) > s.limit {
		old := s.order[0]
		s.order = s.order[1:]
		if cur, ok := s.items[old]; ok && cur.State != StateRunning {
			delete(s.items, old)
		}
	}
}

// Get возвращает снимок по токену
func (s *Store) Get(token string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[token]
	return snap, ok
}
