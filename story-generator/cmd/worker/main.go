package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"taleweaver-server/pkg/database"
	"taleweaver-server/pkg/migration"
	sharedLogger "taleweaver-server/shared/logger"
	"taleweaver-server/shared/messaging"
	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/repository"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/service"
	"taleweaver-server/story-generator/internal/storage"
	"taleweaver-server/story-generator/internal/worker"
	"taleweaver-server/story-generator/migrations"
)

const (
	// Имя очереди задач генерации
	taskQueueName = messaging.QueueStoryGenerationTasks
	// Имена для Dead Letter Exchange и Queue
	dlxName       = taskQueueName + "_dlx"
	dlqName       = taskQueueName + "_dlq"
	dlqRoutingKey = "dlq"
)

func main() {
	log.Println("Запуск воркера генерации историй...")

	// .env нужен только для локальной разработки, в контейнере его нет
	if err := godotenv.Load(); err != nil {
		log.Printf("Файл .env не найден (ок для production): %v", err)
	}

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Структурированный логгер для сервисного слоя
	zapLogger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "story-generator",
	})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer zapLogger.Sync()

	// --- PostgreSQL + миграции ---
	log.Println("Подключение к PostgreSQL...")
	dbPool, err := database.NewPool(database.Config{
		DSN:               cfg.GetDSN(),
		MaxConns:          cfg.DBMaxConns,
		IdleTimeout:       cfg.DBIdleTimeout,
		ConnectRetries:    50,
		ConnectRetryDelay: 3 * time.Second,
	})
	if err != nil {
		log.Fatalf("Не удалось подключиться к базе данных: %v", err)
	}
	defer dbPool.Close()
	log.Println("Успешное подключение к PostgreSQL")

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, dbPool)
	if err := migrator.Up(context.Background()); err != nil {
		log.Fatalf("Ошибка применения миграций: %v", err)
	}

	// --- Redis (блокировка повторной генерации) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Не удалось подключиться к Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Успешное подключение к Redis")

	// --- RabbitMQ ---
	conn, err := connectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Не удалось подключиться к RabbitMQ: %v", err)
	}
	defer conn.Close()
	log.Println("Успешное подключение к RabbitMQ")

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("Не удалось открыть канал: %v", err)
	}
	defer ch.Close()

	if err := setupQueues(ch); err != nil {
		log.Fatalf("Ошибка настройки очередей: %v", err)
	}

	// Один воркер - одна задача за раз, генерация истории долгая
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatalf("Не удалось установить QoS: %v", err)
	}
	log.Println("QoS (prefetch count=1) установлен")

	// --- Метрики ---
	if err := worker.InitMetricsPusher(cfg.PushgatewayURL); err != nil {
		// Pushgateway опционален: без него остается /metrics эндпоинт
		log.Printf("[WARN] Pushgateway недоступен: %v", err)
	} else {
		worker.StartMetricsPusher(15 * time.Second)
		defer worker.CleanupMetrics()
	}
	metricsServer := startMetricsServer(cfg.MetricsPort)

	// --- Сборка зависимостей генерации ---
	log.Println("Инициализация AI клиента...")
	aiClient, err := service.NewAIClient(cfg)
	if err != nil {
		log.Fatalf("Ошибка инициализации AI клиента: %v", err)
	}
	imageClient := service.NewImageClient(cfg)
	audioClient := service.NewAudioClient(cfg)

	uploader, err := storage.NewFirebaseUploader(context.Background(), cfg.FirebaseCredentialsFile, zapLogger)
	if err != nil {
		log.Fatalf("Ошибка инициализации Firebase Storage: %v", err)
	}

	textPolicy := retry.Policy{MaxAttempts: cfg.AIMaxAttempts, BaseDelay: cfg.AIBaseRetryDelay}
	fixer := service.NewFixer(aiClient, textPolicy, zapLogger)
	engine := repair.NewEngine(fixer, zapLogger, repair.Options{
		RepairAttempts: cfg.RepairMaxAttempts,
		SchemaAttempts: cfg.SchemaMaxAttempts,
	})

	storyRepo := repository.NewPgStoryRepository(dbPool, zapLogger)
	sceneRepo := repository.NewPgSceneRepository(dbPool, zapLogger)
	genLock := repository.NewRedisGenerationLock(redisClient, cfg.GenLockTTL, zapLogger)

	pipeline := service.NewScenePipeline(cfg, aiClient, engine, textPolicy,
		imageClient, audioClient, uploader, sceneRepo, zapLogger)
	orchestrator := service.NewOrchestrator(aiClient, engine, textPolicy,
		pipeline, storyRepo, zapLogger)

	publisher, err := messaging.NewRabbitMQResultPublisher(conn)
	if err != nil {
		log.Fatalf("Не удалось создать publisher результатов: %v", err)
	}
	defer publisher.Close()

	taskHandler := worker.NewTaskHandler(orchestrator, genLock, publisher, zapLogger)

	// --- Потребление задач ---
	msgs, err := ch.Consume(
		taskQueueName, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("Не удалось зарегистрировать консьюмера: %v", err)
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	log.Println(" [*] Ожидание задач генерации. Для выхода нажмите CTRL+C")

	go func() {
		defer close(done)
		for msg := range msgs {
			var payload messaging.StoryGenerationTaskPayload
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				log.Printf("Ошибка десериализации JSON: %v. Отклоняем сообщение (nack, no requeue).", err)
				worker.IncrementTaskFailed("deserialization")
				// Сообщение уходит в DLQ
				msg.Nack(false, false)
				continue
			}

			if err := taskHandler.Handle(rootCtx, payload); err != nil {
				log.Printf("[TaskID: %s] Ошибка обработки задачи: %v. Отклоняем сообщение (nack, no requeue).", payload.TaskID, err)
				msg.Nack(false, false)
			} else {
				msg.Ack(false)
			}
		}
		log.Println("Канал сообщений закрыт, горутина обработки завершается.")
	}()

	select {
	case <-stopChan:
		log.Println("Получен сигнал завершения. Завершение работы...")
	case <-done:
		log.Println("Поток сообщений закрыт.")
	}

	// Закрываем канал, чтобы цикл потребления завершился, и ждем текущую задачу
	rootCancel()
	ch.Close()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка при остановке сервера метрик: %v", err)
	}

	log.Println("Воркер генерации историй остановлен.")
}

// setupQueues объявляет DLX/DLQ и основную очередь задач.
func setupQueues(ch *amqp.Channel) error {
	log.Printf("Настройка Dead Letter Exchange ('%s') и Queue ('%s')...", dlxName, dlqName)

	if err := ch.ExchangeDeclare(
		dlxName,  // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		dlqName, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return err
	}

	// Связываем DLQ с DLX
	if err := ch.QueueBind(dlqName, dlqRoutingKey, dlxName, false, nil); err != nil {
		return err
	}

	// Основная очередь задач с маршрутизацией отклоненных сообщений в DLX
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	if _, err := ch.QueueDeclare(
		taskQueueName, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		args,          // arguments
	); err != nil {
		return err
	}

	log.Printf("Очередь '%s' объявлена, DLQ '%s' связана с DLX '%s'.", taskQueueName, dlqName, dlxName)
	return nil
}

// startMetricsServer запускает HTTP-сервер для /metrics и /health.
func startMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(worker.MetricsRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Запуск HTTP-сервера метрик на :%s...", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска HTTP-сервера метрик: %v", err)
		}
	}()

	return server
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Printf("Не удалось подключиться к RabbitMQ (попытка %d/%d): %v. Повтор через %v...", i+1, maxRetries, err, retryDelay)
		time.Sleep(retryDelay)
	}
	return nil, err
}
