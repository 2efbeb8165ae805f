// Package registry хранит активные передачи по токену и ограничивает их число.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"ftp_bridge/internal/ftperr"
)

// DefaultLimit задаёт максимум одновременных передач в каждом направлении
const DefaultLimit = 10

// Direction задаёт направление передачи
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Token формирует идентификатор передачи: "local=>remote" или "local<=remote"
func Token(dir Direction, local, remote string) string {
	if dir == Upload {
		return local + "=>" + remote
	}
	return local + "<=" + remote
}

// State представляет состояние зарегистрированной задачи
type State int32

const (
	StateRunning State = iota
	StateCancelling
)

func (s State) String() string {
	if s == StateCancelling {
		return "cancelling"
	}
	return "running"
}

// Spec описывает новую задачу
type Spec struct {
	Direction Direction
	Local     string
	Remote    string
	// Cleanup удаляет частичный файл, если сама передача этого не сделала
	Cleanup func(ctx context.Context) error
}

// Task представляет одну передачу. Снимается с учёта до закрытия Done.
type Task struct {
	Token     string
	Direction Direction
	Local     string
	Remote    string

	cancel     context.CancelFunc
	cleanup    func(ctx context.Context) error
	done       chan struct{}
	err        error
	percentage atomic.Int32
	cleaned    atomic.Bool
	state      atomic.Int32
}

// Done закрывается после завершения передачи
func (t *Task) Done() <-chan struct{} { return t.done }

// Err возвращает итог передачи; имеет смысл после закрытия Done
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait ждёт завершения передачи или отмены ctx
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkCleaned отмечает, что частичных файлов не осталось
func (t *Task) MarkCleaned() { t.cleaned.Store(true) }

// SetPercentage запоминает последний отправленный процент
func (t *Task) SetPercentage(p int) { t.percentage.Store(int32(p)) }

// Percentage возвращает последний отправленный процент
func (t *Task) Percentage() int { return int(t.percentage.Load()) }

// State возвращает текущее состояние
func (t *Task) State() State { return State(t.state.Load()) }

// Status представляет снимок активной задачи
type Status struct {
	Token      string
	Direction  Direction
	Local      string
	Remote     string
	Percentage int
	State      State
}

// Registry хранит таблицу активных передач
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	active map[Direction]int
	limits map[Direction]int
	onDone func(t *Task, err error)
	log    zerolog.Logger
}

// New создаёт реестр с лимитами на загрузки и скачивания.
// onDone вызывается после снятия задачи с учёта, но до закрытия Done.
func New(maxUploads, maxDownloads int, onDone func(t *Task, err error), log zerolog.Logger) *Registry {
	if maxUploads <= 0 {
		maxUploads = DefaultLimit
	}
	if maxDownloads <= 0 {
		maxDownloads = DefaultLimit
	}
	return &Registry{
		tasks:  make(map[string]*Task),
		active: make(map[Direction]int),
		limits: map[Direction]int{Upload: maxUploads, Download: maxDownloads},
		onDone: onDone,
		log:    log.With().Str("component", "registry").Logger(),
	}
}

// Start регистрирует задачу и запускает run в отдельной горутине.
// ctx задаёт время жизни передачи; отмена через Cancel отменяет производный контекст.
func (r *Registry) Start(ctx context.Context, spec Spec, run func(ctx context.Context, t *Task) error) (*Task, error) {
	token := Token(spec.Direction, spec.Local, spec.Remote)

	r.mu.Lock()
	if _, ok := r.tasks[token]; ok {
		r.mu.Unlock()
		return nil, ftperr.E(ftperr.ErrDuplicateTask, spec.Direction.String(), token, nil)
	}
	if r.active[spec.Direction] >= r.limits[spec.Direction] {
		r.mu.Unlock()
		return nil, ftperr.E(ftperr.ErrCapacityExceeded, spec.Direction.String(), token,
			fmt.Errorf("maximum of %d concurrent %ss reached", r.limits[spec.Direction], spec.Direction))
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		Token:     token,
		Direction: spec.Direction,
		Local:     spec.Local,
		Remote:    spec.Remote,
		cancel:    cancel,
		cleanup:   spec.Cleanup,
		done:      make(chan struct{}),
	}
	r.tasks[token] = t
	r.active[spec.Direction]++
	r.mu.Unlock()

	r.log.Debug().Str("token", token).Msg("task registered")

	go func() {
		defer cancel()
		err := run(tctx, t)

		r.mu.Lock()
		delete(r.tasks, token)
		r.active[spec.Direction]--
		r.mu.Unlock()

		t.err = err
		if r.onDone != nil {
			r.onDone(t, err)
		}
		close(t.done)
	}()
	return t, nil
}

// Cancel отменяет передачу и ждёт, пока она завершится и уберёт за собой.
// Неизвестный токен, токен другого направления и уже завершённая передача дают ErrUnknownToken.
func (r *Registry) Cancel(ctx context.Context, dir Direction, token string) error {
	r.mu.Lock()
	t, ok := r.tasks[token]
	r.mu.Unlock()
	if !ok || t.Direction != dir {
		return ftperr.E(ftperr.ErrUnknownToken, "cancel "+dir.String(), token, nil)
	}

	t.state.Store(int32(StateCancelling))
	t.cancel()
	r.log.Info().Str("token", token).Msg("cancelling task")

	select {
	case <-t.done:
	case <-ctx.Done():
		return ftperr.E(ftperr.ErrCancelled, "cancel "+dir.String(), token, ctx.Err())
	}

	if !errors.Is(t.err, ftperr.ErrCancelled) {
		// передача успела закончиться сама
		return ftperr.E(ftperr.ErrUnknownToken, "cancel "+dir.String(), token, fmt.Errorf("task already finished"))
	}
	// параллельный Cancel того же токена очистку не повторяет
	if t.cleanup != nil && t.cleaned.CompareAndSwap(false, true) {
		if err := t.cleanup(context.WithoutCancel(ctx)); err != nil {
			t.cleaned.Store(false)
			return ftperr.E(ftperr.ErrIOFailure, "cancel "+dir.String(), token, fmt.Errorf("removing partial file: %w", err))
		}
	}
	return nil
}

// CancelAll отменяет все активные передачи
func (r *Registry) CancelAll(ctx context.Context) error {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	var errs *multierror.Error
	for _, t := range tasks {
		err := r.Cancel(ctx, t.Direction, t.Token)
		if err != nil && ftperr.KindOf(err) != ftperr.ErrUnknownToken {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Lookup возвращает активную задачу по токену
func (r *Registry) Lookup(token string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[token]
	return t, ok
}

// Status возвращает снимок активной задачи
func (r *Registry) Status(token string) (Status, bool) {
	r.mu.Lock()
	t, ok := r.tasks[token]
	r.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return Status{
		Token:      t.Token,
		Direction:  t.Direction,
		Local:      t.Local,
		Remote:     t.Remote,
		Percentage: t.Percentage(),
		State:      t.State(),
	}, true
}

// Active возвращает число активных передач в направлении
func (r *Registry) Active(dir Direction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[dir]
}
