// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (userbot-диспетчер AI-команд на MTProto). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения (ключи провайдеров, таймзоны,
//     лимиты, пути файлов),
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. предоставляет доступ к результату через неизменяемый снимок EnvConfig.
//
// Бизнес-контекст: конфиг управляет подключением к Telegram API, выбором
// LLM-провайдера и его пулом ключей, лимитами на команды от авторизованных
// пользователей, параметрами мониторинга соединения и внешними инструментами
// (ffmpeg, генерация изображений, синтез речи).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"sakaibot/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: учетные данные MTProto, файлы состояния,
// пулы ключей AI-провайдеров, лимиты и «ручки» мониторинга.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	TestDC      bool

	// Файлы данных
	SessionFile    string
	StateFile      string
	PeersCacheFile string
	SettingsFile   string
	LockFile       string
	TempDir        string

	// Логирование
	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	// AI-провайдер
	LLMProvider       string // gemini | openrouter
	GeminiModel       string
	GeminiAPIKeys     []string
	OpenRouterModel   string
	OpenRouterAPIKeys []string

	// Внешние инструменты
	TTSBaseURL  string
	TTSAPIKey   string
	FFmpegPath  string
	FluxBaseURL string
	SDXLBaseURL string
	SDXLAPIKey  string

	// Лимиты и поведение
	ThrottleRPS        int
	MaxAnalyzeMessages int
	RateLimitMax       int
	RateLimitWindowSec int
	ConfirmKeyword     string

	// Мониторинг соединения
	HealthIntervalSec     int
	ProxyRestartCmd       string
	ProxyRestartThreshold int

	// Таймзоны
	AppTimezone        string
	QuotaResetTimezone string

	// Режимы
	Environment string // production | development
	Debug       bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: конфиг загружается один раз на старте и далее читается
// как неизменяемый снимок; мьютекс защищает только фазу загрузки и Warnings().
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultLogLevel       = "info"
	defaultSessionFile    = "data/session.bin"
	defaultStateFile      = "data/state.json"
	defaultPeersCacheFile = "data/peers_cache.bbolt"
	defaultSettingsFile   = "data/settings.json"
	defaultLockFile       = "data/sakaibot.lock"
	defaultTempDir        = "data/tmp"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true

	defaultLLMProvider     = "gemini"
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultOpenRouterModel = "deepseek/deepseek-chat"
	defaultFFmpegPath      = "ffmpeg"

	defaultThrottleRPS        = 1
	defaultMaxAnalyzeMessages = 5000
	defaultRateLimitMax       = 5
	defaultRateLimitWindowSec = 60
	defaultConfirmKeyword     = "confirm"

	defaultHealthIntervalSec     = 120
	defaultProxyRestartThreshold = 3

	defaultAppTimezone = "Europe/Moscow"
	// Дневные квоты Gemini сбрасываются в полночь тихоокеанского времени.
	defaultQuotaResetTimezone = "America/Los_Angeles"

	defaultEnvironment = "production"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — таймзона приложения, используется для человекочитаемых
// временных меток в статусе и логах CLI.
var AppLocation *time.Location

// QuotaResetLocation — референсная таймзона сброса дневных квот AI-провайдера.
var QuotaResetLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton cfgInstance. Повторный вызов запрещен (возвращается ошибка), чтобы
// избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	phone := strings.TrimSpace(os.Getenv("PHONE_NUMBER"))
	if phone == "" {
		return nil, errors.New("env PHONE_NUMBER must be set")
	}

	var warnings []string

	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	stateFile := sanitizeFile("STATE_FILE", os.Getenv("STATE_FILE"), defaultStateFile, &warnings)
	peersCacheFile := sanitizeFile("PEERS_CACHE_FILE", os.Getenv("PEERS_CACHE_FILE"), defaultPeersCacheFile, &warnings)
	settingsFile := sanitizeFile("SETTINGS_FILE", os.Getenv("SETTINGS_FILE"), defaultSettingsFile, &warnings)
	lockFile := sanitizeFile("LOCK_FILE", os.Getenv("LOCK_FILE"), defaultLockFile, &warnings)
	tempDir := sanitizeFile("TEMP_DIR", os.Getenv("TEMP_DIR"), defaultTempDir, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	llmProvider := sanitizeProvider(os.Getenv("LLM_PROVIDER"), &warnings)
	geminiModel := sanitizeFile("GEMINI_MODEL", os.Getenv("GEMINI_MODEL"), defaultGeminiModel, &warnings)
	geminiKeys := sanitizeKeys("GEMINI_API_KEYS", os.Getenv("GEMINI_API_KEYS"), &warnings)
	openRouterModel := sanitizeFile("OPENROUTER_MODEL", os.Getenv("OPENROUTER_MODEL"),
		defaultOpenRouterModel, &warnings)
	openRouterKeys := sanitizeKeys("OPENROUTER_API_KEYS", os.Getenv("OPENROUTER_API_KEYS"), &warnings)

	// Активный провайдер обязан иметь хотя бы один ключ; запускаться без
	// возможности отвечать на команды бессмысленно.
	switch llmProvider {
	case "gemini":
		if len(geminiKeys) == 0 {
			return nil, errors.New("env GEMINI_API_KEYS must contain at least one key for LLM_PROVIDER=gemini")
		}
	case "openrouter":
		if len(openRouterKeys) == 0 {
			return nil, errors.New("env OPENROUTER_API_KEYS must contain at least one key for LLM_PROVIDER=openrouter")
		}
	}

	ttsBaseURL := strings.TrimSpace(os.Getenv("TTS_BASE_URL"))
	ttsAPIKey := strings.TrimSpace(os.Getenv("TTS_API_KEY"))
	ffmpegPath := sanitizeFile("FFMPEG_PATH", os.Getenv("FFMPEG_PATH"), defaultFFmpegPath, &warnings)
	fluxBaseURL := strings.TrimSpace(os.Getenv("FLUX_BASE_URL"))
	sdxlBaseURL := strings.TrimSpace(os.Getenv("SDXL_BASE_URL"))
	sdxlAPIKey := strings.TrimSpace(os.Getenv("SDXL_API_KEY"))

	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	maxAnalyze := parseIntDefault("MAX_ANALYZE_MESSAGES", defaultMaxAnalyzeMessages, greaterThanZero, &warnings)
	rateLimitMax := parseIntDefault("RATE_LIMIT_MAX", defaultRateLimitMax, greaterThanZero, &warnings)
	rateLimitWindow := parseIntDefault("RATE_LIMIT_WINDOW_SEC", defaultRateLimitWindowSec, greaterThanZero, &warnings)
	confirmKeyword := sanitizeConfirmKeyword(os.Getenv("CONFIRM_KEYWORD"), &warnings)

	healthInterval := parseIntDefault("HEALTH_INTERVAL_SEC", defaultHealthIntervalSec, greaterThanZero, &warnings)
	proxyRestartCmd := strings.TrimSpace(os.Getenv("PROXY_RESTART_CMD"))
	proxyRestartThreshold := parseIntDefault("PROXY_RESTART_THRESHOLD",
		defaultProxyRestartThreshold, greaterThanZero, &warnings)

	appTimezone := sanitizeTimezoneFlexible("APP_TIMEZONE", os.Getenv("APP_TIMEZONE"),
		defaultAppTimezone, &warnings)
	quotaTimezone := sanitizeTimezoneFlexible("QUOTA_RESET_TIMEZONE", os.Getenv("QUOTA_RESET_TIMEZONE"),
		defaultQuotaResetTimezone, &warnings)

	environment := sanitizeEnvironment(os.Getenv("ENVIRONMENT"), &warnings)
	debug := parseBoolDefault("DEBUG", false, &warnings)

	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}
	QuotaResetLocation, err = timeutil.ParseLocation(quotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_RESET_TIMEZONE %q: %w", quotaTimezone, err)
	}

	env := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phone,
		TestDC:      testDC,

		SessionFile:    sessionFile,
		StateFile:      stateFile,
		PeersCacheFile: peersCacheFile,
		SettingsFile:   settingsFile,
		LockFile:       lockFile,
		TempDir:        tempDir,

		LogLevel:          logLevel,
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,

		LLMProvider:       llmProvider,
		GeminiModel:       geminiModel,
		GeminiAPIKeys:     geminiKeys,
		OpenRouterModel:   openRouterModel,
		OpenRouterAPIKeys: openRouterKeys,

		TTSBaseURL:  ttsBaseURL,
		TTSAPIKey:   ttsAPIKey,
		FFmpegPath:  ffmpegPath,
		FluxBaseURL: fluxBaseURL,
		SDXLBaseURL: sdxlBaseURL,
		SDXLAPIKey:  sdxlAPIKey,

		ThrottleRPS:        throttleRPS,
		MaxAnalyzeMessages: maxAnalyze,
		RateLimitMax:       rateLimitMax,
		RateLimitWindowSec: rateLimitWindow,
		ConfirmKeyword:     confirmKeyword,

		HealthIntervalSec:     healthInterval,
		ProxyRestartCmd:       proxyRestartCmd,
		ProxyRestartThreshold: proxyRestartThreshold,

		AppTimezone:        appTimezone,
		QuotaResetTimezone: quotaTimezone,

		Environment: environment,
		Debug:       debug,
	}

	cfg := &Config{
		Env:      env,
		warnings: warnings,
	}

	return cfg, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero/ nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения
// набором {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeProvider нормализует LLM_PROVIDER. Допустимы gemini и openrouter;
// всё прочее приводится к дефолту с предупреждением.
func sanitizeProvider(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env LLM_PROVIDER is not set; using default %q", defaultLLMProvider)
		return defaultLLMProvider
	}
	switch v {
	case "gemini", "openrouter":
		return v
	default:
		appendWarningf(warnings, "env LLM_PROVIDER value %q is invalid; using default %q", value, defaultLLMProvider)
		return defaultLLMProvider
	}
}

// sanitizeKeys разбирает CSV-список API-ключей: обрезает пробелы, выкидывает
// пустые элементы и дубликаты с сохранением исходного порядка. Порядок важен:
// пул ключей ротируется по индексам.
func sanitizeKeys(name, value string, warnings *[]string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		k := strings.TrimSpace(part)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			appendWarningf(warnings, "env %s contains a duplicate key; ignored", name)
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// sanitizeConfirmKeyword нормализует ключевое слово подтверждения (нижний регистр,
// без пробелов). Пустое значение заменяется дефолтом.
func sanitizeConfirmKeyword(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env CONFIRM_KEYWORD is not set; using default %q", defaultConfirmKeyword)
		return defaultConfirmKeyword
	}
	return v
}

// sanitizeEnvironment нормализует ENVIRONMENT (production|development).
func sanitizeEnvironment(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env ENVIRONMENT is not set; using default %q", defaultEnvironment)
		return defaultEnvironment
	}
	switch v {
	case "production", "development":
		return v
	default:
		appendWarningf(warnings, "env ENVIRONMENT value %q is invalid; using default %q", value, defaultEnvironment)
		return defaultEnvironment
	}
}

// sanitizeFile возвращает валидное строковое значение конфигурации. Если
// переменная не задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible проверяет, что значение — корректная IANA‑зона или UTC‑смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezoneFlexible(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env %s timezone %q is invalid; using default %q", name, v, fallback)
		return fallback
	}
	return v
}
