// Package version хранит имя и версию приложения для логов, CLI и device-паспорта MTProto.
package version

const (
	// Name — человекочитаемое имя процесса.
	Name = "SakaiBot"
	// Version подставляется при сборке через -ldflags "-X sakaibot/internal/support/version.Version=…".
	Version = "dev"
)
