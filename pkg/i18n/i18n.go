package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	SeedLoaded         string
	SettingsLoaded     string
	TradesResumed      string
	OracleEnabled      string
	NotifyKafka        string
	NotifyLogOnly      string
	APIServerError     string

	// Client errors, keyed by error code
	AmountNonPositive        string
	UnknownSymbol            string
	InstrumentUntradeable    string
	EarlyCloseDisabled       string
	TradingDisabled          string
	InvalidArgument          string
	UserBlocked              string
	UserFrozen               string
	Unauthenticated          string
	Forbidden                string
	InsufficientFunds        string
	DuplicateKey             string
	StateTransitionForbidden string
	TradeNotFound            string
	TradeNotActive           string
	NotFound                 string
	Unavailable              string
	Internal                 string
	RateLimited              string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting simtrade core",
	ConfigLoaded:       "Configuration loaded",
	UsingDBPath:        "Using database at %s",
	ServerListening:    "API server listening on %s",
	ShuttingDown:       "Shutting down...",
	ShutdownComplete:   "Shutdown complete",
	ConfigLoadFailed:   "Failed to load configuration: %v",
	DBInitFailed:       "Failed to open database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	SeedLoaded:         "Instrument seed loaded from %s",
	SettingsLoaded:     "Trading settings loaded",
	TradesResumed:      "Resumed %d active trades",
	OracleEnabled:      "Real price oracle %s configured",
	NotifyKafka:        "Notifications go to Kafka topic %s",
	NotifyLogOnly:      "No Kafka brokers, notifications are logged only",
	APIServerError:     "API server error: %v",

	// Client errors
	AmountNonPositive:        "Amount must be greater than zero.",
	UnknownSymbol:            "Unknown instrument.",
	InstrumentUntradeable:    "This instrument is not available for trading.",
	EarlyCloseDisabled:       "Closing a trade early is currently disabled.",
	TradingDisabled:          "Trading is currently disabled.",
	InvalidArgument:          "The request is invalid.",
	UserBlocked:              "Your account cannot trade right now.",
	UserFrozen:               "Your account is frozen.",
	Unauthenticated:          "Please sign in again.",
	Forbidden:                "You are not allowed to do that.",
	InsufficientFunds:        "Insufficient balance.",
	DuplicateKey:             "This request was already processed.",
	StateTransitionForbidden: "This request can no longer be changed.",
	TradeNotFound:            "Trade not found.",
	TradeNotActive:           "This trade is already closed.",
	NotFound:                 "Not found.",
	Unavailable:              "Service temporarily unavailable, please retry.",
	Internal:                 "Something went wrong.",
	RateLimited:              "Too many requests, please slow down.",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動模擬交易核心",
	ConfigLoaded:       "設定已載入",
	UsingDBPath:        "使用資料庫：%s",
	ServerListening:    "API 伺服器監聽 %s",
	ShuttingDown:       "正在關閉...",
	ShutdownComplete:   "關閉完成",
	ConfigLoadFailed:   "載入設定失敗：%v",
	DBInitFailed:       "開啟資料庫失敗：%v",
	DBMigrationsFailed: "資料庫遷移失敗：%v",
	SeedLoaded:         "已從 %s 載入商品種子",
	SettingsLoaded:     "交易參數已載入",
	TradesResumed:      "已恢復 %d 筆進行中交易",
	OracleEnabled:      "已設定真實價格來源 %s",
	NotifyKafka:        "通知寫入 Kafka 主題 %s",
	NotifyLogOnly:      "未設定 Kafka，通知僅寫入日誌",
	APIServerError:     "API 伺服器錯誤：%v",

	// Client errors
	AmountNonPositive:        "金額必須大於零。",
	UnknownSymbol:            "未知的商品。",
	InstrumentUntradeable:    "此商品目前不可交易。",
	EarlyCloseDisabled:       "目前不允許提前平倉。",
	TradingDisabled:          "交易目前已暫停。",
	InvalidArgument:          "請求內容無效。",
	UserBlocked:              "您的帳戶目前無法交易。",
	UserFrozen:               "您的帳戶已被凍結。",
	Unauthenticated:          "請重新登入。",
	Forbidden:                "您沒有執行此操作的權限。",
	InsufficientFunds:        "餘額不足。",
	DuplicateKey:             "此請求已處理過。",
	StateTransitionForbidden: "此請求的狀態已無法變更。",
	TradeNotFound:            "找不到此交易。",
	TradeNotActive:           "此交易已結束。",
	NotFound:                 "找不到資源。",
	Unavailable:              "服務暫時無法使用，請稍後再試。",
	Internal:                 "發生錯誤。",
	RateLimited:              "請求過於頻繁，請稍後再試。",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	messages = For(lang)
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// For returns the messages of lang, English when unsupported.
func For(lang Language) *Messages {
	switch lang {
	case LangZH:
		return &messagesZH
	default:
		return &messagesEN
	}
}

// ParseAcceptLanguage picks the first supported language of an
// Accept-Language header, falling back to the process language.
func ParseAcceptLanguage(header string) Language {
	for _, part := range strings.Split(header, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		switch {
		case strings.HasPrefix(tag, "zh"):
			return LangZH
		case strings.HasPrefix(tag, "en"):
			return LangEN
		}
	}
	return GetLanguage()
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	return lookup(M(), key)
}

// ForCode localizes a client error code such as INSUFFICIENT_FUNDS.
func ForCode(lang Language, code string) string {
	return lookup(For(lang), codeKey(code))
}

func lookup(msg *Messages, key string) string {
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}

// codeKey turns UPPER_SNAKE into the UpperCamel field name.
func codeKey(code string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.ToLower(code), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
