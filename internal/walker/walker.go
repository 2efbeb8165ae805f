// Package walker обходит удалённые каталоги в глубину: рекурсивное удаление и подсчёт размера.
// Вместо рекурсии используется явный стек, поэтому глубина дерева не ограничена стеком вызовов.
package walker

import (
	"math"
	"path"

	"github.com/jlaffaye/ftp"

	"ftp_bridge/internal/session"
)

// frame описывает каталог в стеке обхода. expanded означает, что его содержимое уже обработано.
type frame struct {
	path     string
	expanded bool
}

// RemoveRecursively удаляет каталог со всем содержимым.
// Файлы каталога удаляются до обхода подкаталогов; при первой ошибке обход прерывается,
// а родительские каталоги не трогаются.
func RemoveRecursively(conn session.Conn, root string) error {
	stack := []frame{{path: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.expanded {
			if err := conn.RemoveDir(top.path); err != nil {
				return session.Classify("rmdir", top.path, err)
			}
			continue
		}

		entries, err := conn.List(top.path)
		if err != nil {
			return session.Classify("list", top.path, err)
		}

		stack = append(stack, frame{path: top.path, expanded: true})
		for _, e := range entries {
			if isDotEntry(e.Name) {
				continue
			}
			child := path.Join(top.path, e.Name)
			if e.Type == ftp.EntryTypeFolder {
				stack = append(stack, frame{path: child})
				continue
			}
			if err := conn.Delete(child); err != nil {
				return session.Classify("delete", child, err)
			}
		}
	}
	return nil
}

// ComputeSize суммирует размеры файлов каталога и всех подкаталогов.
// Ссылки не учитываются. Любая ошибка листинга прерывает подсчёт.
func ComputeSize(conn session.Conn, root string) (int64, error) {
	var total int64
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := conn.List(dir)
		if err != nil {
			return 0, session.Classify("list", dir, err)
		}
		for _, e := range entries {
			switch {
			case e.Type == ftp.EntryTypeFile:
				total = addSize(total, e.Size)
			case e.Type == ftp.EntryTypeFolder && !isDotEntry(e.Name):
				stack = append(stack, path.Join(dir, e.Name))
			}
		}
	}
	return total, nil
}

func isDotEntry(name string) bool {
	return name == "." || name == ".."
}

func addSize(total int64, size uint64) int64 {
	if size > uint64(math.MaxInt64-total) {
		return math.MaxInt64
	}
	return total + int64(size)
}
