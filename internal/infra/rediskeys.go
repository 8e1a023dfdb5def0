package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "orchcore"
)

// Каналы Pub/Sub (управляющие сигналы оператора)
const (
	// RedisChanAgentControl — команды агентам: "<agentID>:<pause|resume|restart>".
	RedisChanAgentControl = RedisNamespace + ":agents:control-signal"
	// RedisChanBreakerControl — команды предохранителям: "<service>:reset".
	RedisChanBreakerControl = RedisNamespace + ":breakers:control-signal"
)
