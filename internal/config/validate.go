package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the cross-field rules between
// services and policies. All problems are reported together.
func Validate(config PlatformConfig) error {
	var problems []string

	if err := getValidator().Struct(config); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	seen := make(map[string]bool, len(config.Services))
	for _, svc := range config.Services {
		if svc.Name != "" && !serviceNamePattern.MatchString(svc.Name) {
			problems = append(problems, fmt.Sprintf("service %q: name may only contain letters, digits, '.', '_' and '-'", svc.Name))
		}
		if seen[svc.Name] {
			problems = append(problems, fmt.Sprintf("service %q: duplicate name", svc.Name))
		}
		seen[svc.Name] = true

		switch svc.EffectiveKind() {
		case KindProcess:
			if svc.Command == "" {
				problems = append(problems, fmt.Sprintf("service %q: process services need a command", svc.Name))
			}
		case KindCompose:
			if svc.ComposeFile == "" {
				problems = append(problems, fmt.Sprintf("service %q: compose services need a composeFile", svc.Name))
			}
		}
		if svc.Tier == TierContainer && svc.EffectiveKind() != KindCompose {
			problems = append(problems, fmt.Sprintf("service %q: container tier requires kind compose", svc.Name))
		}
	}

	paths := make(map[string]bool, len(config.Cleanup.Policies))
	for _, p := range config.Cleanup.Policies {
		resolved := config.ResolvePath(p.Path)
		if paths[resolved] {
			problems = append(problems, fmt.Sprintf("cleanup policy %q: duplicate directory", p.Path))
		}
		paths[resolved] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "PlatformConfig.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
