// Package export serializes chatbot flow graphs into a versioned JSON
// envelope for backup and transfer between environments.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/waflow/waflow/pkg/models"
)

// Version is the current envelope format version. Importers reject
// envelopes from a newer format.
const Version = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported export version")
	ErrInvalidEnvelope    = errors.New("invalid export envelope")
)

// Flow is the portable part of a chatbot: graph plus descriptive fields,
// stripped of ids, status, and timestamps that belong to the source
// environment.
type Flow struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes"`
	Edges       []*models.Edge `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Envelope is the on-disk export format.
type Envelope struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Flow       Flow      `json:"flow"`

	// DataSource names the environment the export came from. Informational.
	DataSource string `json:"dataSource,omitempty"`
}

// envelopeSchema validates the structural shape before unmarshalling into
// typed models, so malformed payloads produce one aggregated error instead
// of a decode panic trail.
var envelopeSchema = map[string]any{
	"type":     "object",
	"required": []any{"version", "flow"},
	"properties": map[string]any{
		"version":    map[string]any{"type": "integer", "minimum": 1},
		"exportedAt": map[string]any{"type": "string"},
		"dataSource": map[string]any{"type": "string"},
		"flow": map[string]any{
			"type":     "object",
			"required": []any{"name", "nodes", "edges"},
			"properties": map[string]any{
				"name":        map[string]any{"type": "string", "minLength": 1},
				"description": map[string]any{"type": "string"},
				"metadata":    map[string]any{"type": "object"},
				"nodes": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type":     "object",
						"required": []any{"id"},
						"properties": map[string]any{
							"id":   map[string]any{"type": "string", "minLength": 1},
							"type": map[string]any{"type": "string"},
							"data": map[string]any{"type": "object"},
						},
					},
				},
				"edges": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []any{"source", "target"},
						"properties": map[string]any{
							"id":            map[string]any{"type": "string"},
							"source":        map[string]any{"type": "string", "minLength": 1},
							"target":        map[string]any{"type": "string", "minLength": 1},
							"source_handle": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	},
}

// Export builds the envelope for a chatbot.
func Export(chatbot *models.Chatbot, dataSource string) *Envelope {
	return &Envelope{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		DataSource: dataSource,
		Flow: Flow{
			Name:        chatbot.Name,
			Description: chatbot.Description,
			Nodes:       chatbot.Nodes,
			Edges:       chatbot.Edges,
			Metadata:    chatbot.Metadata,
		},
	}
}

// Marshal renders the envelope as indented JSON.
func Marshal(envelope *Envelope) ([]byte, error) {
	return json.MarshalIndent(envelope, "", "  ")
}

// Import validates and decodes an envelope, returning a new draft chatbot
// with a fresh id. The imported flow must be activated explicitly before it
// can execute.
func Import(data []byte) (*models.Chatbot, error) {
	err := validate(data)
	if err != nil {
		return nil, err
	}

	var envelope Envelope

	err = json.Unmarshal(data, &envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	if envelope.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, envelope.Version)
	}

	now := time.Now().UTC()

	return &models.Chatbot{
		ID:          uuid.New().String(),
		Name:        envelope.Flow.Name,
		Description: envelope.Flow.Description,
		Status:      models.ChatbotStatusDraft,
		IsActive:    false,
		Nodes:       envelope.Flow.Nodes,
		Edges:       envelope.Flow.Edges,
		Metadata:    envelope.Flow.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func validate(data []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(envelopeSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(descriptions, "; "))
	}

	return nil
}
