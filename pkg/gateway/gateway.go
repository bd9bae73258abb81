// Package gateway provides the public API for embedding the revenue
// intelligence gateway. This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/revintel-gateway/internal/runtime"
)

// Gateway is the main entry point for running the gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/gateway.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Authentication
	WithHostedAuth      = runtime.WithHostedAuth
	WithCredentialStore = runtime.WithCredentialStore

	// Storage
	WithSQLite     = runtime.WithSQLite
	WithEventStore = runtime.WithEventStore

	// Events
	WithDirectEvents   = runtime.WithDirectEvents
	WithNATSEvents     = runtime.WithNATSEvents
	WithEventPublisher = runtime.WithEventPublisher

	// Policy
	WithBasicPolicy     = runtime.WithBasicPolicy
	WithRateLimitPolicy = runtime.WithRateLimitPolicy
	WithQualityPolicy   = runtime.WithQualityPolicy

	// Advanced options
	WithLogger            = runtime.WithLogger
	WithClock             = runtime.WithClock
	WithGenerationBackend = runtime.WithGenerationBackend
)
