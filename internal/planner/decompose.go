package planner

import (
	"context"
	"strings"
	"time"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// Теги возможностей, которые раздаёт эвристическая декомпозиция. Агенты,
// желающие исполнять шаги планов, регистрируются с этими тегами.
const (
	CapResearch = "research"
	CapAnalyze  = "analyze"
	CapDesign   = "design"
	CapBuild    = "build"
	CapVerify   = "verify"
)

// stepTemplate — заготовка шага с уверенностью подбора.
type stepTemplate struct {
	capability  string
	description string
	confidence  float64
}

var (
	buildTemplate = []stepTemplate{
		{CapDesign, "Design the architecture", 0.9},
		{CapBuild, "Set up the development environment", 0.8},
		{CapBuild, "Create a working prototype", 0.7},
	}
	processTemplate = []stepTemplate{
		{CapAnalyze, "Analyze the input format", 0.9},
		{CapBuild, "Create the processing pipeline", 0.8},
		{CapBuild, "Implement error handling", 0.7},
	}
	revenueTemplate = []stepTemplate{
		{CapResearch, "Identify revenue streams", 0.9},
		{CapBuild, "Build monetization features", 0.8},
		{CapDesign, "Create a pricing strategy", 0.7},
	}
	genericTemplate = []stepTemplate{
		{CapResearch, "Break the goal down into subtasks", 0.8},
		{CapResearch, "Research best practices", 0.7},
		{CapDesign, "Create an action plan", 0.6},
	}
	verifyStep = stepTemplate{CapVerify, "Verify the result against the goal", 0.8}
)

// Оценка длительности шага по тегу возможности, основа таймаута задачи.
var stepEstimates = map[string]time.Duration{
	CapResearch: 3 * time.Minute,
	CapAnalyze:  3 * time.Minute,
	CapDesign:   5 * time.Minute,
	CapBuild:    10 * time.Minute,
	CapVerify:   2 * time.Minute,
}

// HeuristicStrategy подбирает шаблон шагов по ключевым словам цели и
// завершает план проверочным шагом. Уверенность плана — произведение
// уверенностей его шагов, как у оценки пути в дереве вариантов.
//
// Понимаемые ограничения:
//
//	max_steps         - жёсткий потолок числа шагов (int или float64)
//	skip_verification - true отключает финальный проверочный шаг
type HeuristicStrategy struct{}

func NewHeuristicStrategy() *HeuristicStrategy {
	return &HeuristicStrategy{}
}

func (s *HeuristicStrategy) Decompose(_ context.Context, goal string, _ map[string]interface{}, constraints map[string]interface{}) ([]domain.PlanStep, float64, error) {
	lower := strings.ToLower(goal)

	var tmpl []stepTemplate
	switch {
	case containsAny(lower, "build", "create", "implement", "develop"):
		tmpl = buildTemplate
	case containsAny(lower, "process", "convert", "parse", "transform"):
		tmpl = processTemplate
	case containsAny(lower, "earn", "money", "revenue", "monetiz"):
		tmpl = revenueTemplate
	default:
		tmpl = genericTemplate
	}

	templates := make([]stepTemplate, 0, len(tmpl)+1)
	templates = append(templates, tmpl...)
	if !boolConstraint(constraints, "skip_verification") {
		templates = append(templates, verifyStep)
	}
	if limit, ok := intConstraint(constraints, "max_steps"); ok && limit > 0 && limit < len(templates) {
		templates = templates[:limit]
	}

	steps := make([]domain.PlanStep, 0, len(templates))
	confidence := 1.0
	for _, st := range templates {
		steps = append(steps, domain.PlanStep{
			Type:        st.capability,
			Description: st.description,
			Estimate:    stepEstimates[st.capability],
		})
		confidence *= st.confidence
	}
	return steps, confidence, nil
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func boolConstraint(constraints map[string]interface{}, key string) bool {
	v, ok := constraints[key].(bool)
	return ok && v
}

// intConstraint достаёт целочисленное ограничение. Числа из JSON приходят
// как float64, поэтому принимаем обе формы.
func intConstraint(constraints map[string]interface{}, key string) (int, bool) {
	switch v := constraints[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
