// Package session — файловое хранилище MTProto-сессии. Запись атомарна, чтобы
// авария посреди сохранения не оставила битый файл и не заставила проходить
// авторизацию заново. Успешная запись означает живой логин, поэтому хранилище
// заодно сообщает менеджеру соединения, что связь установлена.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"

	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/storage"
	"sakaibot/internal/infra/telegram/connection"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// FileStorage реализует tdsession.Storage поверх файла Path. Load/Store
// сериализуются мьютексом: gotd может дёргать их из разных горутин.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает сессию с диска. Отсутствующий файл транслируется в
// tdsession.ErrNotFound: для gotd это сигнал начать авторизацию с нуля.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно пишет сессию на диск и помечает соединение живым,
// разблокируя ожидателей WaitOnline.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}

	logger.Debug("StoreSession: connection.MarkConnected")
	connection.MarkConnected()
	return nil
}
