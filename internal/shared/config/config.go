package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	ctopics "github.com/radieske/bet-ledger/pkg/contracts/topics"
)

// Config centraliza variáveis de ambiente e parâmetros de execução dos serviços
// Inclui conexões, tópicos, token do Telegram, portas e intervalos dos ticks
type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string // ex: "ledger-service", "dispatcher-worker"

	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string // "a:9092,b:9092"

	// Tópicos
	TopicCouponSettled    string
	TopicCouponSettledDLQ string

	// Mensageria (Telegram)
	MessagingToken        string
	MessagingFancyBalance bool
	DefaultLanguage       string // "pl" | "en"

	// Fuso horário usado para janelas de alertas e períodos de relatórios
	Timezone *time.Location

	// Intervalos do dispatcher
	AlertsTick  time.Duration
	ReportsTick time.Duration
	BudgetTick  time.Duration

	// Portas do serviço atual
	HTTPPort    string // Porta pública (ex.: API REST)
	MetricsPort string // Porta exclusiva para /metrics e /healthz
}

// Load carrega variáveis de ambiente e define defaults para cada serviço
// Resolve portas conforme o SERVICE_NAME e monta o DSN a partir de DB_*
func Load() Config {
	svc := getEnv("SERVICE_NAME", "")
	env := getEnv("ENV", "local")

	tz, err := time.LoadLocation(getEnv("TIMEZONE", "Europe/Warsaw"))
	if err != nil {
		tz = time.UTC
	}

	cfg := Config{
		Env:         env,
		ServiceName: svc,

		PostgresDSN:  postgresDSN(),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),

		TopicCouponSettled:    getEnv("KAFKA_TOPIC_COUPON_SETTLED", ctopics.CouponSettled),
		TopicCouponSettledDLQ: getEnv("KAFKA_TOPIC_COUPON_SETTLED_DLQ", ctopics.CouponSettledDLQ),

		MessagingToken:        getEnv("MESSAGING_TOKEN", ""),
		MessagingFancyBalance: getEnv("MESSAGING_FANCY_BALANCE", "false") == "true",
		DefaultLanguage:       getEnv("DEFAULT_LANGUAGE", "pl"),

		Timezone: tz,

		AlertsTick:  getEnvSeconds("ALERTS_TICK_SECONDS", 15),
		ReportsTick: getEnvSeconds("REPORTS_TICK_SECONDS", 60),
		BudgetTick:  getEnvSeconds("BUDGET_TICK_SECONDS", 60),
	}

	// Define portas padrão para cada serviço
	switch svc {
	case "ledger-service":
		cfg.HTTPPort = getEnv("HTTP_PORT_LEDGER", "8080")
		cfg.MetricsPort = getEnv("METRICS_PORT_LEDGER", "9095")
	case "dispatcher-worker":
		cfg.HTTPPort = getEnv("HTTP_PORT_DISPATCHER", "") // worker não expõe HTTP público
		cfg.MetricsPort = getEnv("METRICS_PORT_DISPATCHER", "9096")
	default:
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
		cfg.MetricsPort = getEnv("METRICS_PORT", "9095")
	}

	return cfg
}

// postgresDSN monta o DSN a partir das variáveis DB_*; POSTGRES_DSN tem precedência
func postgresDSN() string {
	if dsn, ok := os.LookupEnv("POSTGRES_DSN"); ok {
		return dsn
	}
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	name := getEnv("DB_NAME", "bet_ledger")
	user := getEnv("DB_USER", "bet")
	pass := getEnv("DB_PASSWORD", "betpassword")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

// getEnv retorna o valor da variável de ambiente ou o default
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// getEnvInt retorna a variável como inteiro ou o default
func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvSeconds retorna a variável como duração em segundos ou o default
func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}
