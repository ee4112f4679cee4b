package worker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	jobName = "story_generator_worker"
)

var (
	// Общий реестр для всех метрик этого воркера.
	// promauto.With(registry) регистрирует метрики в локальном реестре,
	// а не в глобальном prometheus.DefaultRegistry.
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_received_total",
			Help: "Total number of generation tasks received by the worker.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_failed_total",
			Help: "Total number of failed tasks, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_succeeded_total",
			Help: "Total number of successfully completed generation tasks.",
		},
	)
	scenesGenerated = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_generator_scenes_generated_total",
			Help: "Total number of scenes generated with media.",
		},
	)
	taskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_generator_task_duration_seconds",
			Help:    "Wall clock duration of a full story generation task.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
	)

	// Pusher для отправки метрик в Pushgateway
	pusher *push.Pusher

	// Группировочные метки для Pushgateway
	groupingKey map[string]string
)

// InitMetricsPusher инициализирует клиент Pushgateway.
// pushgatewayURL: адрес Pushgateway (e.g., "http://localhost:9091")
func InitMetricsPusher(pushgatewayURL string) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		log.Printf("[Metrics] Warning: could not get hostname: %v", err)
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	groupingKey = map[string]string{
		"instance": instanceID,
	}

	log.Printf("[Metrics] Initializing Pushgateway pusher for job '%s' with instance '%s' to %s", jobName, instanceID, pushgatewayURL)

	pusher = push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID)

	// Сразу отправляем нулевые значения, чтобы проверить соединение
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	log.Printf("[Metrics] Initial push to Pushgateway successful.")
	return nil
}

// StartMetricsPusher запускает горутину периодической отправки метрик.
func StartMetricsPusher(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			if pusher == nil {
				ticker.Stop()
				log.Println("[Metrics] Pusher is nil, stopping periodic push.")
				return
			}
			pushMetrics()
		}
	}()
	log.Printf("[Metrics] Started periodic pusher with interval %v", interval)
}

// pushMetrics отправляет текущие метрики в Pushgateway.
func pushMetrics() error {
	if pusher == nil {
		return errors.New("pusher not initialized")
	}
	if err := pusher.Push(); err != nil {
		log.Printf("[Metrics] Error pushing metrics to Pushgateway: %v", err)
		return err
	}
	return nil
}

// MetricsRegistry возвращает реестр воркера для HTTP эндпоинта /metrics.
func MetricsRegistry() *prometheus.Registry {
	return registry
}

// IncrementTasksReceived увеличивает счетчик полученных задач.
func IncrementTasksReceived() {
	tasksReceived.Inc()
	pushMetrics()
}

// IncrementTaskFailed увеличивает счетчик неудачных задач для указанной причины.
func IncrementTaskFailed(reason string) {
	tasksFailed.WithLabelValues(reason).Inc()
	pushMetrics()
}

// IncrementTaskSucceeded увеличивает счетчик успешно выполненных задач.
func IncrementTaskSucceeded() {
	tasksSucceeded.Inc()
	pushMetrics()
}

// AddScenesGenerated добавляет количество сгенерированных сцен.
func AddScenesGenerated(count int) {
	scenesGenerated.Add(float64(count))
	pushMetrics()
}

// RecordTaskDuration записывает общую длительность обработки задачи.
func RecordTaskDuration(d time.Duration) {
	taskDuration.Observe(d.Seconds())
}

// CleanupMetrics удаляет метрики этого инстанса из Pushgateway.
// Должна вызываться через defer в main.
func CleanupMetrics() {
	if pusher == nil {
		log.Println("[Metrics] Cleanup skipped: Pusher not initialized.")
		return
	}

	log.Printf("[Metrics] Deleting metrics from Pushgateway for job '%s', grouping key: %v", jobName, groupingKey)
	if err := pusher.Delete(); err != nil {
		log.Printf("[Metrics] Error deleting metrics from Pushgateway: %v", err)
	} else {
		log.Printf("[Metrics] Successfully deleted metrics from Pushgateway.")
	}
}
