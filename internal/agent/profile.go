package agent

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// Profile describes how a scenario talks to the Agent.
type Profile struct {
	Scenario     domain.Scenario `validate:"required"`
	Model        string
	SystemPrompt string `validate:"required"`
	PromptType   string `validate:"required"`
	AllowedTools []string
	// BaseContext is merged with the brand config before each call.
	BaseContext map[string]any `validate:"required"`
}

var validate = validator.New()

// ProfileRegistry resolves scenarios to profiles.
type ProfileRegistry struct {
	profiles map[domain.Scenario]Profile
}

// NewProfileRegistry validates and indexes the given profiles.
func NewProfileRegistry(profiles ...Profile) (*ProfileRegistry, error) {
	reg := &ProfileRegistry{profiles: make(map[domain.Scenario]Profile, len(profiles))}
	for _, p := range profiles {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("op=agent.NewProfileRegistry scenario=%s: %w: %v", p.Scenario, domain.ErrAgentConfig, err)
		}
		reg.profiles[p.Scenario] = p
	}
	return reg, nil
}

// Get returns the profile for scenario or an ErrAgentConfig error.
func (r *ProfileRegistry) Get(scenario domain.Scenario) (Profile, error) {
	p, ok := r.profiles[scenario]
	if !ok {
		return Profile{}, fmt.Errorf("op=agent.ProfileRegistry.Get: %w: unknown scenario %q", domain.ErrAgentConfig, scenario)
	}
	return p, nil
}

// DefaultProfiles returns the built-in scenario set. Only candidate
// consultation is served today.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Scenario:   domain.ScenarioCandidateConsultation,
			PromptType: "candidate_consultation",
			SystemPrompt: "你是一名亲切的招聘顾问，帮助求职者了解岗位与面试安排。" +
				"回复要口语化、简短自然，避免使用 Markdown 列表。" +
				"当前时间：{{CURRENT_TIME}}",
			AllowedTools: []string{"job_search", "interview_schedule"},
			BaseContext:  map[string]any{"channel": "wecom"},
		},
	}
}
