// Санитайзер секретов: маскирует API-ключи и Bearer-токены в сообщениях и полях
// лог-записей. Применяется как обёртка над zapcore.Core, чтобы редактирование
// происходило централизованно при эмиссии, независимо от дисциплины вызывающего кода.
package logger

import (
	"regexp"

	"go.uber.org/zap/zapcore"
)

// secretPatterns перечисляет формы, в которых секреты обычно просачиваются в логи:
//   - заголовки Authorization: Bearer …;
//   - query-параметры вида key=… / api_key=… / apikey=…;
//   - ключи Google AI (префикс AIza…) и OpenRouter (префикс sk-or-…).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|key|token)=)[A-Za-z0-9._~+/-]{8,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`),
	regexp.MustCompile(`sk-or-[0-9A-Za-z_-]{16,}`),
}

const secretPlaceholder = "***"

// SanitizeString маскирует известные формы секретов в произвольной строке.
// Экспортируется для переиспользования в пользовательских сообщениях об ошибках.
func SanitizeString(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			// Для шаблонов с префиксной группой сохраняем префикс (Bearer / key=).
			if groups := re.FindStringSubmatch(m); len(groups) > 1 && groups[1] != "" {
				return groups[1] + secretPlaceholder
			}
			return secretPlaceholder
		})
	}
	return s
}

// sanitizingCore оборачивает zapcore.Core и переписывает Entry.Message и строковые
// поля перед записью. Ошибки в полях сериализуются в строку и тоже маскируются.
type sanitizingCore struct {
	zapcore.Core
}

func newSanitizingCore(inner zapcore.Core) zapcore.Core {
	return &sanitizingCore{Core: inner}
}

func (c *sanitizingCore) With(fields []zapcore.Field) zapcore.Core {
	return &sanitizingCore{Core: c.Core.With(sanitizeFields(fields))}
}

func (c *sanitizingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sanitizingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = SanitizeString(ent.Message)
	return c.Core.Write(ent, sanitizeFields(fields))
}

// sanitizeFields маскирует строковые поля и поля-ошибки; остальные типы проходят как есть.
func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)
	for i := range out {
		switch out[i].Type {
		case zapcore.StringType:
			out[i].String = SanitizeString(out[i].String)
		case zapcore.ErrorType:
			if err, ok := out[i].Interface.(error); ok && err != nil {
				out[i] = zapcore.Field{
					Key:    out[i].Key,
					Type:   zapcore.StringType,
					String: SanitizeString(err.Error()),
				}
			}
		default:
		}
	}
	return out
}
