package domain

// OrchestratorStats — агрегат для дашборда: срезы всех реестров разом.
type OrchestratorStats struct {
	Services struct {
		Total     int `json:"total"`
		Healthy   int `json:"healthy"`
		Unhealthy int `json:"unhealthy"`
		Unknown   int `json:"unknown"`
	} `json:"services"`
	Agents     map[AgentStatus]int `json:"agents"` // Количество по статусам
	Tasks      map[TaskStatus]int  `json:"tasks"`
	QueueDepth int                 `json:"queue_depth"`
	Plans      map[PlanStatus]int  `json:"plans"`
	Breakers   struct {
		Open     int `json:"open"`
		HalfOpen int `json:"half_open"`
	} `json:"breakers"`
}
