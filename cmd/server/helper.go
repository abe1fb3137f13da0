package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-yield-resolver/internal/circuitbreaker"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// chainEndpoints canonicalizes the configured RPC endpoint keys.
func chainEndpoints(raw map[string]string) map[types.Chain]string {
	endpoints := make(map[types.Chain]string, len(raw))
	for name, url := range raw {
		endpoints[types.NormalizeChain(name)] = url
	}
	return endpoints
}

// chainParam normalizes a chain path parameter.
func chainParam(raw string) types.Chain {
	return types.NormalizeChain(raw)
}

// stateLabel renders a breaker state for status payloads.
func stateLabel(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.StateOpen:
		return "open"
	case circuitbreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// requestsPerSecond is the inbound rate limit, tunable via RATE_LIMIT_RPS.
func requestsPerSecond() float64 {
	if raw := os.Getenv("RATE_LIMIT_RPS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			return v
		}
	}
	return 10.0
}

// requestBurst is the inbound burst allowance, tunable via RATE_LIMIT_BURST.
func requestBurst() int {
	if raw := os.Getenv("RATE_LIMIT_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return 20
}
