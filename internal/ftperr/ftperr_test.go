package ftperr

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := &textproto.Error{Code: 550, Msg: "Permission denied"}
	err := E(ErrProtocol, "delete", "/a.txt", cause)

	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
	code, ok := ReplyCode(err)
	if !ok || code != 550 {
		t.Errorf("expected reply code 550, got %d (ok=%v)", code, ok)
	}
	want := "delete /a.txt: protocol error: 550 Permission denied"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestEKeepsExistingKind(t *testing.T) {
	inner := E(ErrCancelled, "upload", "/r.bin", nil)
	wrapped := fmt.Errorf("stor: %w", inner)

	err := E(ErrUploadFailed, "upload", "/r.bin", wrapped)
	if KindOf(err) != ErrCancelled {
		t.Errorf("expected kind ErrCancelled, got %v", KindOf(err))
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{E(ErrDuplicateTask, "upload", "", nil), "DUPLICATE_TASK"},
		{E(ErrSizeQueryFailed, "size", "/x", errors.New("boom")), "SIZE_QUERY_FAILED"},
		{fmt.Errorf("wrapped: %w", E(ErrCancelled, "download", "", nil)), "CANCELLED"},
		{errors.New("plain"), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}
