package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxHTTPTimeout time.Duration

	RabbitMQHost        string
	RabbitMQPort        int
	RabbitMQUser        string
	RabbitMQPass        string
	QueueRaw            string
	ExchangeBroadcast   string
	BrokerPoolSize      int
	BrokerMaxRetries    int
	BrokerRetryDelay    time.Duration

	GeohashPrecisionStorage int

	ThresholdPM25 float64
	ThresholdPM10 float64
	ThresholdNO2  float64
	ThresholdSO2  float64
	ThresholdO3   float64

	WorkerPrefetch int

	MetricsEnabled bool
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		InfluxURL:         getenv("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:       getenv("INFLUXDB_TOKEN", ""),
		InfluxOrg:         getenv("INFLUXDB_ORG", "airmesh"),
		InfluxBucket:      getenv("INFLUXDB_BUCKET", "air_quality"),
		InfluxHTTPTimeout: getduration("INFLUXDB_HTTP_TIMEOUT", 10*time.Second),

		RabbitMQHost:      getenv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:      getint("RABBITMQ_PORT", 5672),
		RabbitMQUser:      getenv("RABBITMQ_DEFAULT_USER", "guest"),
		RabbitMQPass:      getenv("RABBITMQ_DEFAULT_PASS", "guest"),
		QueueRaw:          getenv("RABBITMQ_QUEUE_RAW", "raw_air_quality"),
		ExchangeBroadcast: getenv("RABBITMQ_EXCHANGE_BROADCAST", "anomalies.broadcast"),
		BrokerPoolSize:    getint("BROKER_POOL_SIZE", 15),
		BrokerMaxRetries:  getint("BROKER_MAX_RETRIES", 3),
		BrokerRetryDelay:  getduration("BROKER_RETRY_DELAY", 500*time.Millisecond),

		GeohashPrecisionStorage: getint("GEOHASH_PRECISION_STORAGE", 7),

		ThresholdPM25: getfloat("THRESHOLD_PM25_HAZARDOUS", 250.0),
		ThresholdPM10: getfloat("THRESHOLD_PM10_HAZARDOUS", 420.0),
		ThresholdNO2:  getfloat("THRESHOLD_NO2_HAZARDOUS", 200.0),
		ThresholdSO2:  getfloat("THRESHOLD_SO2_HAZARDOUS", 75.0),
		ThresholdO3:   getfloat("THRESHOLD_O3_HAZARDOUS", 70.0),

		WorkerPrefetch: getint("WORKER_PREFETCH", 10),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
}

// AMQPUrl composes the dial URL from the discrete RabbitMQ env vars.
func (c Config) AMQPUrl() string {
	return "amqp://" + c.RabbitMQUser + ":" + c.RabbitMQPass + "@" + c.RabbitMQHost + ":" + strconv.Itoa(c.RabbitMQPort) + "/"
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
