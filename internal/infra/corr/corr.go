// Package corr — корреляционные идентификаторы событий.
// Каждое входящее событие Telegram получает короткий id, который прокидывается
// через context и добавляется в каждую лог-запись на пути обработки команды.
package corr

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey struct{}

// New генерирует короткий корреляционный id (первые 8 символов UUIDv4).
// Полный UUID избыточен для глазного поиска по логам.
func New() string {
	return uuid.NewString()[:8]
}

// WithID кладёт корреляционный id в контекст.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext достаёт корреляционный id; пустая строка, если не назначен.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Field возвращает zap-поле с корреляционным id из контекста.
// Удобно добавлять первым аргументом в каждую запись на пути диспетчеризации.
func Field(ctx context.Context) zap.Field {
	return zap.String("corr", FromContext(ctx))
}
