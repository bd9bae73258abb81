package domain

import "time"

// GenerateRequest is the body of POST /api/resources/generate.
type GenerateRequest struct {
	ResourceID         string         `json:"resourceId"`
	ResourceType       string         `json:"resourceType"`
	CustomerData       map[string]any `json:"customerData"`
	ProductContext     map[string]any `json:"productContext,omitempty"`
	StakeholderContext map[string]any `json:"stakeholderContext,omitempty"`
}

// GenerationState is the in-flight (or recently failed) state of a resource.
type GenerationState struct {
	ResourceID      string   `json:"resourceId"`
	CustomerID      string   `json:"customerId,omitempty"`
	IsGenerating    bool     `json:"isGenerating"`
	Progress        int      `json:"progress"`
	CurrentStep     string   `json:"currentStep"`
	Error           string   `json:"error,omitempty"`
	MCPServicesUsed []string `json:"mcpServicesUsed,omitempty"`
}

// GeneratedResource is created once per resource on completion.
type GeneratedResource struct {
	ID               string        `json:"id"`
	CustomerID       string        `json:"customerId,omitempty"`
	Content          any           `json:"content"`
	Quality          float64       `json:"quality"`
	GenerationMethod string        `json:"generationMethod"`
	Cost             float64       `json:"cost"`
	Duration         time.Duration `json:"duration"`
	Sources          []string      `json:"sources,omitempty"`
	Confidence       float64       `json:"confidence"`
	GeneratedAt      time.Time     `json:"generatedAt"`
}
