package config

// QueueConfig locates the broker, the reservation events queue and the
// audit file the consumer writes.
type QueueConfig struct {
	URL        string // empty disables publishing
	Queue      string
	AuditFile  string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// LoadQueueConfig reads RABBITMQ_URL (or AMQP_URL), RESERVATION_EVENTS_QUEUE
// and AUDIT_LOG_*.
func LoadQueueConfig() QueueConfig {
	return QueueConfig{
		URL:        rabbitURL(),
		Queue:      envStr("RESERVATION_EVENTS_QUEUE", "reservation.events"),
		AuditFile:  envStr("AUDIT_LOG_FILE", "logs/reservation.log"),
		MaxSizeMB:  envInt("AUDIT_LOG_MAX_SIZE_MB", 50),
		MaxBackups: envInt("AUDIT_LOG_MAX_BACKUPS", 10),
		MaxAgeDays: envInt("AUDIT_LOG_MAX_AGE_DAYS", 90),
	}
}
