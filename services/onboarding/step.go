package onboarding

// Step is a dashboard onboarding step.
type Step int

const (
	// StepUnknown covers step names this package does not handle; they are advanced past.
	StepUnknown Step = iota
	StepStart
	StepUser
	StepSettings
	StepFinish
)

var stepNames = map[string]Step{
	"start":    StepStart,
	"user":     StepUser,
	"settings": StepSettings,
	"finish":   StepFinish,
}

// ParseStep maps a step name reported by the dashboard.
func ParseStep(name string) Step {
	if s, ok := stepNames[name]; ok {
		return s
	}
	return StepUnknown
}

func (s Step) String() string {
	for name, step := range stepNames {
		if step == s {
			return name
		}
	}
	return "unknown"
}
