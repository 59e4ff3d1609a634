package llm

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-rationale/internal/ports"
)

const tracerName = "github.com/ahrav/go-rationale/infrastructure/llm"

// TracingMiddleware opens an "llm.request" span per logical request on the
// global tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithTracer(serviceName, otel.Tracer(tracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware on an explicit tracer.
func TracingMiddlewareWithTracer(serviceName string, tracer trace.Tracer) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, service: serviceName, tracer: tracer}
	}
}

type tracedLLM struct {
	next    CoreLLM
	service string
	tracer  trace.Tracer
}

func (t *tracedLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	model := t.next.GetModel()
	ctx, span := t.tracer.Start(ctx, "llm.request", trace.WithAttributes(
		attribute.String("service.name", t.service),
		attribute.String("llm.provider", providerOf(model)),
		attribute.String("llm.model", model),
		attribute.Int("llm.prompt.length", len(prompt)),
		attribute.Int("llm.images", len(images)),
	))
	defer span.End()

	response, tokensIn, tokensOut, err := t.next.DoRequest(ctx, prompt, images, opts)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Type != ErrorTypeUnknown {
			span.SetAttributes(attribute.String("llm.error.type", perr.Type.String()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, tokensIn, tokensOut, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", tokensIn),
		attribute.Int("llm.tokens.output", tokensOut),
	)
	return response, tokensIn, tokensOut, nil
}

func (t *tracedLLM) GetModel() string  { return t.next.GetModel() }
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
