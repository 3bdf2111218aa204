package script

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustic-ai/moth/packages/spec"
	"github.com/rustic-ai/moth/packages/validation"
)

// Config tunes script validation behavior for a suite run.
type Config struct {
	// FailOnScriptError promotes sandbox failures (timeout, trap, bad
	// outcome) to validation errors. When false they are logged and the
	// script contributes nothing, unless the script is marked required.
	FailOnScriptError bool
	Limits            Limits
}

var _ validation.Validator = (*Validator)(nil)

// Validator runs the suite's validation scripts for one execution phase and
// adapts their outcomes to the shared validation contract. A suite typically
// holds two instances, one per phase, around the standard field/schema pass.
type Validator struct {
	cfg      Config
	phase    spec.ExecutionPhase
	scripts  []spec.ValidationScript
	backends map[string]Backend
	log      *logrus.Entry
}

// NewValidator builds a phase-scoped validator holding only the scripts
// that participate in the given phase. A script whose language has no
// registered backend is reported as a validation error when it runs, so
// construction itself cannot fail.
func NewValidator(cfg Config, phase spec.ExecutionPhase, scripts []spec.ValidationScript, backends ...Backend) *Validator {
	byLang := make(map[string]Backend, len(backends))
	for _, b := range backends {
		byLang[b.Language()] = b
	}
	var phased []spec.ValidationScript
	for _, s := range scripts {
		if s.RunsIn(phase) {
			phased = append(phased, s)
		}
	}
	return &Validator{
		cfg:      cfg,
		phase:    phase,
		scripts:  phased,
		backends: byLang,
		log:      logrus.WithField("component", "script-validator"),
	}
}

func (v *Validator) Name() string { return "scripts/" + string(v.phase) }

// Validate runs every script registered for this validator's phase against
// the response. Script failures become validation errors; sandbox errors are
// governed by FailOnScriptError and the script's required flag.
func (v *Validator) Validate(ctx context.Context, response []byte, rc *validation.RunContext) []validation.Error {
	var errs []validation.Error
	for _, s := range v.scripts {
		log := v.log.WithFields(logrus.Fields{"script": s.Name, "test": rc.TestName})

		backend, ok := v.backends[s.Language]
		if !ok {
			errs = append(errs, validation.Error{
				Path:    "$",
				Kind:    "script",
				Message: fmt.Sprintf("script %q: no backend for language %q", s.Name, s.Language),
			})
			continue
		}

		sc := NewScriptContext(rc.TestName, rc.ToolName, string(v.phase))
		sc.Request = rc.Request
		sc.Response = response
		sc.Capabilities = rc.Capabilities

		outcome, err := backend.Execute(ctx, []byte(s.Source), sc, v.cfg.Limits)
		if err != nil {
			if v.cfg.FailOnScriptError || s.Required {
				errs = append(errs, validation.Error{
					Path:    "$",
					Kind:    "script",
					Message: fmt.Sprintf("script %q: %v", s.Name, err),
				})
			} else {
				log.WithError(err).Warn("script execution failed, continuing")
			}
			continue
		}

		if outcome.Logs != "" {
			log.WithField("logs", outcome.Logs).Debug("script logs")
		}
		if !outcome.Success {
			errs = append(errs, outcomeError(s.Name, outcome))
		}
	}
	return errs
}

func outcomeError(name string, o *Outcome) validation.Error {
	path := o.Field
	if path == "" {
		path = "$"
	}
	msg := o.Message
	if msg == "" {
		msg = "script reported failure"
	}
	return validation.Error{
		Path:     path,
		Kind:     "script",
		Message:  fmt.Sprintf("script %q: %s", name, msg),
		Expected: o.Expected,
		Actual:   o.Actual,
	}
}
