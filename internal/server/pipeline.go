package server

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
	"go.opentelemetry.io/otel/attribute"
)

// check runs the three validation phases over a request body: the JSON
// Schema gate, decoding with entity construction, and the whole-document
// checks. It stops at the first phase that reports violations. The
// decoded document is returned only when every phase passed.
func (m *Mux) check(ctx context.Context, body []byte) (*vcon.Vcon, model.ValidateResponse) {
	_, span := telemetry.Tracer().Start(ctx, "validateDocument")
	defer span.End()
	start := time.Now()

	v, resp := runPhases(m.validator.Validate, body)

	kinds := make([]string, 0, len(resp.Violations))
	for _, vi := range resp.Violations {
		kinds = append(kinds, vi.Kind.String())
	}
	m.metrics.ObserveValidation(resp.Phase, kinds, time.Since(start))
	span.SetAttributes(
		attribute.Bool("valid", resp.Valid),
		attribute.String("phase", resp.Phase),
		attribute.Int("violations", len(resp.Violations)),
	)
	return v, resp
}

func runPhases(gate func([]byte) ([]vcon.Violation, error), body []byte) (*vcon.Vcon, model.ValidateResponse) {
	reject := func(phase string, vs []vcon.Violation) (*vcon.Vcon, model.ValidateResponse) {
		return nil, model.ValidateResponse{Phase: phase, Violations: vs}
	}

	vs, err := gate(body)
	if err != nil {
		return reject(model.PhaseSchema, []vcon.Violation{{
			Kind:    vcon.StructuralViolation,
			Message: "document is not valid JSON",
		}})
	}
	if len(vs) > 0 {
		return reject(model.PhaseSchema, vs)
	}

	v, err := vcon.BuildFromJSON(body)
	if err != nil {
		var sv *vcon.SchemaViolation
		if errors.As(err, &sv) {
			return reject(model.PhaseStructure, sv.Violations)
		}
		return reject(model.PhaseStructure, []vcon.Violation{{Kind: vcon.StructuralViolation, Message: err.Error()}})
	}

	if ok, vs := v.IsValid(); !ok {
		phase := model.PhaseReference
		for _, vi := range vs {
			if vi.Kind == vcon.StructuralViolation {
				phase = model.PhaseStructure
				break
			}
		}
		return reject(phase, vs)
	}

	return v, model.ValidateResponse{Valid: true, Violations: []vcon.Violation{}}
}
