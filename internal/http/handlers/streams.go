// Package handlers provides HTTP API handlers over the Lifecycle Manager
// (G) and Recording Catalog (F).
package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/opensensor/lightnvr/internal/catalog"
	"github.com/opensensor/lightnvr/internal/lifecycle"
	"github.com/opensensor/lightnvr/internal/models"
)

// StreamHandler handles stream configuration CRUD and exposes each
// stream's current lifecycle status. Writes go through the Lifecycle
// Manager so the running quartet always reflects the Config Store.
type StreamHandler struct {
	mgr     *lifecycle.Manager
	catalog *catalog.Store
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(mgr *lifecycle.Manager, store *catalog.Store, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{mgr: mgr, catalog: store, logger: logger}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/streams",
		Summary:     "List configured streams",
		Description: "Returns every stream in the Config Store along with its current lifecycle status",
		Tags:        []string{"Streams"},
	}, h.ListStreams)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/streams/{name}",
		Summary:     "Get a stream by name",
		Tags:        []string{"Streams"},
	}, h.GetStream)

	huma.Register(api, huma.Operation{
		OperationID: "createStream",
		Method:      "POST",
		Path:        "/api/streams",
		Summary:     "Add a new stream",
		Description: "Persists the stream to the Config Store and starts its reader/segmenter/HLS/detection quartet; the enabled flag is not consulted, so a stream added as disabled is started too",
		Tags:        []string{"Streams"},
	}, h.CreateStream)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/streams/{name}",
		Summary:     "Replace a stream's configuration",
		Description: "Restarts the stream's quartet with the new configuration",
		Tags:        []string{"Streams"},
	}, h.UpdateStream)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/api/streams/{name}",
		Summary:     "Remove a stream",
		Description: "Stops the stream's quartet and deletes it from the Config Store",
		Tags:        []string{"Streams"},
	}, h.DeleteStream)
}

// StreamResponse is the wire representation of a stream plus its
// current lifecycle status.
type StreamResponse struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	Enabled   bool   `json:"enabled"`
	Record    bool   `json:"record"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FPS       int    `json:"fps"`
	Codec     string `json:"codec"`
	Retention struct {
		MaxAgeSeconds int64 `json:"max_age_seconds"`
		Priority      int   `json:"priority"`
	} `json:"retention"`
	Detection struct {
		Enabled    bool  `json:"enabled"`
		CooldownMS int64 `json:"cooldown_ms"`
	} `json:"detection"`
	LifecycleState string `json:"lifecycle_state"`
	LastErrorKind  string `json:"last_error_kind,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	Attempt        int    `json:"attempt"`
}

func toStreamResponse(s *models.StreamDescriptor, status models.LifecycleRecord, running bool) StreamResponse {
	resp := StreamResponse{
		Name: s.Name, URI: s.URI, Enabled: s.Enabled, Record: s.Record,
		Width: s.Width, Height: s.Height, FPS: s.FPS, Codec: s.Codec,
	}
	resp.Retention.MaxAgeSeconds = s.Retention.MaxAgeSeconds
	resp.Retention.Priority = s.Retention.Priority
	resp.Detection.Enabled = s.Detection.Enabled
	resp.Detection.CooldownMS = s.Detection.CooldownMS
	if running {
		resp.LifecycleState = string(status.State)
		resp.LastErrorKind = string(status.LastErrorKind)
		resp.LastError = status.LastError
		resp.Attempt = status.Attempt
	} else {
		resp.LifecycleState = string(models.LifecycleIdle)
	}
	return resp
}

// ListStreamsInput is the input for listing streams; no parameters yet.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Items []StreamResponse `json:"items"`
	}
}

// ListStreams returns every stream in the Config Store with its status.
func (h *StreamHandler) ListStreams(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	streams, err := h.catalog.ListStreams(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing streams", err)
	}

	out := &ListStreamsOutput{}
	out.Body.Items = make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		status, running := h.mgr.Status(s.Name)
		out.Body.Items = append(out.Body.Items, toStreamResponse(s, status, running))
	}
	return out, nil
}

// GetStreamInput is the input for fetching a single stream.
type GetStreamInput struct {
	Name string `path:"name"`
}

// GetStreamOutput is the output for fetching a single stream.
type GetStreamOutput struct {
	Body StreamResponse
}

// GetStream returns one stream's configuration and status.
func (h *StreamHandler) GetStream(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	s, err := h.catalog.GetStream(ctx, input.Name)
	if err != nil {
		return nil, huma.Error404NotFound("stream not found", err)
	}
	status, running := h.mgr.Status(s.Name)
	return &GetStreamOutput{Body: toStreamResponse(s, status, running)}, nil
}

// StreamRequest is the wire representation accepted by create/update.
type StreamRequest struct {
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Enabled bool   `json:"enabled"`
	Record  bool   `json:"record"`
	Retention struct {
		MaxAgeSeconds int64 `json:"max_age_seconds"`
		Priority      int   `json:"priority"`
	} `json:"retention"`
	Detection struct {
		Enabled    bool  `json:"enabled"`
		CooldownMS int64 `json:"cooldown_ms"`
	} `json:"detection"`
}

func (r *StreamRequest) toDescriptor() *models.StreamDescriptor {
	return &models.StreamDescriptor{
		Name:    r.Name,
		URI:     r.URI,
		Enabled: r.Enabled,
		Record:  r.Record,
		Retention: models.RetentionPolicy{
			MaxAgeSeconds: r.Retention.MaxAgeSeconds,
			Priority:      r.Retention.Priority,
		},
		Detection: models.DetectionPolicy{
			Enabled:    r.Detection.Enabled,
			CooldownMS: r.Detection.CooldownMS,
		},
	}
}

// CreateStreamInput is the input for adding a new stream.
type CreateStreamInput struct {
	Body StreamRequest
}

// CreateStreamOutput is the output for adding a new stream.
type CreateStreamOutput struct {
	Body StreamResponse
}

// CreateStream adds a new stream and starts its quartet.
func (h *StreamHandler) CreateStream(ctx context.Context, input *CreateStreamInput) (*CreateStreamOutput, error) {
	stream := input.Body.toDescriptor()
	if err := h.mgr.AddStream(ctx, stream); err != nil {
		return nil, classifyErr(err)
	}
	status, running := h.mgr.Status(stream.Name)
	return &CreateStreamOutput{Body: toStreamResponse(stream, status, running)}, nil
}

// UpdateStreamInput is the input for replacing a stream's configuration.
type UpdateStreamInput struct {
	Name string `path:"name"`
	Body StreamRequest
}

// UpdateStreamOutput is the output for replacing a stream's configuration.
type UpdateStreamOutput struct {
	Body StreamResponse
}

// UpdateStream restarts the stream's quartet with the replacement
// configuration.
func (h *StreamHandler) UpdateStream(ctx context.Context, input *UpdateStreamInput) (*UpdateStreamOutput, error) {
	stream := input.Body.toDescriptor()
	stream.Name = input.Name
	if err := h.mgr.UpdateStream(ctx, stream); err != nil {
		return nil, classifyErr(err)
	}
	status, running := h.mgr.Status(stream.Name)
	return &UpdateStreamOutput{Body: toStreamResponse(stream, status, running)}, nil
}

// DeleteStreamInput is the input for removing a stream.
type DeleteStreamInput struct {
	Name string `path:"name"`
}

// DeleteStreamOutput is the output for removing a stream.
type DeleteStreamOutput struct{}

// DeleteStream stops the stream's quartet and deletes its Config Store row.
func (h *StreamHandler) DeleteStream(ctx context.Context, input *DeleteStreamInput) (*DeleteStreamOutput, error) {
	if err := h.mgr.RemoveStream(input.Name); err != nil {
		return nil, classifyErr(err)
	}
	return &DeleteStreamOutput{}, nil
}

// classifyErr maps a models.CoreError onto the matching huma HTTP status,
// so callers never need to inspect models.Kind themselves.
func classifyErr(err error) error {
	kind, _ := models.KindOf(err)
	switch kind {
	case models.KindNotFound:
		return huma.Error404NotFound(err.Error())
	case models.KindConflict:
		return huma.Error409Conflict(err.Error())
	case models.KindInvalidConfig:
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
