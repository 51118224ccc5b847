package viva

import "go.opentelemetry.io/otel"

const scopeName = "github.com/zhouzirui/viva/backend/internal/service/viva"

var tracer = otel.Tracer(scopeName)
