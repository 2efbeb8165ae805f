package transfer

import (
	"context"
	"io"
	"math/bits"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/ftperr"
)

// tracker считает процент передачи и шлёт его только при строгом росте
type tracker struct {
	token string
	total int64
	done  int64
	last  int
	sent  bool
	sink  events.Sink
}

func newTracker(token string, total int64, sink events.Sink) *tracker {
	return &tracker{token: token, total: total, sink: sink}
}

// start сообщает о начале передачи (0%)
func (t *tracker) start() {
	t.emit(0)
}

func (t *tracker) advance(n int) {
	if n <= 0 {
		return
	}
	t.done += int64(n)
	if t.total <= 0 {
		// при нулевом размере процент не считается до завершения
		return
	}
	p := percentage(t.done, t.total)
	if p >= 100 {
		// 100% отправляет только finish, после подтверждения сервера
		p = 99
	}
	t.emit(p)
}

// finish вызывается после успешной финализации
func (t *tracker) finish() {
	t.emit(100)
}

func (t *tracker) emit(p int) {
	if t.sent && p <= t.last {
		return
	}
	t.last, t.sent = p, true
	t.sink.Progress(t.token, p)
}

// percentage = floor(done*100/total); произведение считается в 128 битах
func percentage(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	hi, lo := bits.Mul64(uint64(done), 100)
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int(q)
}

// meter читает источник блоками не больше chunk байт и перед каждым блоком проверяет отмену
type meter struct {
	ctx   context.Context
	r     io.Reader
	chunk int
	t     *tracker
	op    string
	path  string
}

func (m *meter) Read(p []byte) (int, error) {
	if err := m.ctx.Err(); err != nil {
		return 0, ftperr.E(ftperr.ErrCancelled, m.op, m.path, err)
	}
	if len(p) > m.chunk {
		p = p[:m.chunk]
	}
	n, err := m.r.Read(p)
	m.t.advance(n)
	return n, err
}
