package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config содержит настройки пула соединений PostgreSQL.
type Config struct {
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
	// Попытки начального подключения (контейнер БД может стартовать дольше воркера)
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

// NewPool создает пул соединений с повторными попытками подключения и ping'а.
func NewPool(cfg Config) (*pgxpool.Pool, error) {
	poolConfig, parseErr := pgxpool.ParseConfig(cfg.DSN)
	if parseErr != nil {
		// DSN некорректен, нет смысла пытаться дальше
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", parseErr)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.IdleTimeout > 0 {
		poolConfig.MaxConnIdleTime = cfg.IdleTimeout
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 10
	}
	retryDelay := cfg.ConnectRetryDelay
	if retryDelay <= 0 {
		retryDelay = 3 * time.Second
	}

	var pool *pgxpool.Pool
	var err error

	log.Printf("Попытка подключения к PostgreSQL (до %d раз с интервалом %v)...", retries, retryDelay)

	for i := 0; i < retries; i++ {
		attempt := i + 1

		// Таймаут на одну попытку подключения и пинга
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			log.Printf("[Попытка %d/%d] Не удалось создать пул соединений: %v", attempt, retries, err)
			cancel()
			if i < retries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		if err = pool.Ping(ctx); err != nil {
			log.Printf("[Попытка %d/%d] Не удалось выполнить ping к PostgreSQL: %v", attempt, retries, err)
			pool.Close()
			cancel()
			if i < retries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		cancel()
		log.Printf("Успешное подключение и ping к PostgreSQL (попытка %d)", attempt)
		return pool, nil
	}

	log.Printf("Не удалось подключиться к PostgreSQL после %d попыток.", retries)
	return nil, fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", retries, err)
}
