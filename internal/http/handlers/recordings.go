package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/opensensor/lightnvr/internal/catalog"
	"github.com/opensensor/lightnvr/internal/models"
)

// RecordingHandler handles segment listing and playback/download over
// the Recording Catalog (F).
type RecordingHandler struct {
	catalog *catalog.Store
	logger  *slog.Logger
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(store *catalog.Store, logger *slog.Logger) *RecordingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingHandler{catalog: store, logger: logger}
}

// Register registers the recording listing routes with the huma API.
// Playback/download are registered separately on the raw router, since
// they stream a file body huma's typed operations aren't suited to.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/recordings",
		Summary:     "List recorded segments",
		Description: "Filters the Catalog's segment table by stream, time range, and detection presence",
		Tags:        []string{"Recordings"},
	}, h.ListRecordings)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/recordings/{id}",
		Summary:     "Get a recorded segment's metadata",
		Tags:        []string{"Recordings"},
	}, h.GetRecording)

	huma.Register(api, huma.Operation{
		OperationID: "listRecordingEvents",
		Method:      "GET",
		Path:        "/api/recordings/{id}/events",
		Summary:     "List detection events for a segment",
		Tags:        []string{"Recordings"},
	}, h.ListEvents)
}

// RegisterRawRoutes registers the file-streaming playback/download
// routes directly on router, bypassing huma's typed response body.
func (h *RecordingHandler) RegisterRawRoutes(router chi.Router) {
	router.Get("/api/recordings/play/{id}", h.Play)
	router.Get("/api/recordings/download/{id}", h.Download)
}

// SegmentResponse is the wire representation of one recorded segment.
type SegmentResponse struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"stream_id"`
	Codec        string    `json:"codec"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Bytes        int64     `json:"bytes"`
	Complete     bool      `json:"complete"`
	HasDetection bool      `json:"has_detection"`
}

func toSegmentResponse(s *models.Segment) SegmentResponse {
	return SegmentResponse{
		ID: s.ID.String(), StreamID: s.StreamID, Codec: s.Codec,
		StartTime: s.StartTime, EndTime: s.EndTime, Bytes: s.Bytes,
		Complete: s.Complete, HasDetection: s.HasDetection,
	}
}

// ListRecordingsInput is the input for listing segments.
type ListRecordingsInput struct {
	StreamID       string `query:"stream_id"`
	Start          string `query:"start"`
	End            string `query:"end"`
	OnlyWithEvents bool   `query:"only_with_events"`
	Limit          int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	Offset         int    `query:"offset" minimum:"0"`
}

// ListRecordingsOutput is the output for listing segments.
type ListRecordingsOutput struct {
	Body struct {
		Items []SegmentResponse `json:"items"`
	}
}

// ListRecordings lists segments matching the query filters, newest first.
func (h *RecordingHandler) ListRecordings(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	q := catalog.SegmentQuery{
		StreamID:       input.StreamID,
		OnlyComplete:   true,
		OnlyWithEvents: input.OnlyWithEvents,
		Limit:          input.Limit,
		Offset:         input.Offset,
	}
	if input.Start != "" {
		if t, err := time.Parse(time.RFC3339, input.Start); err == nil {
			q.Start = t
		}
	}
	if input.End != "" {
		if t, err := time.Parse(time.RFC3339, input.End); err == nil {
			q.End = t
		}
	}

	segs, err := h.catalog.Query(ctx, q)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing recordings", err)
	}

	out := &ListRecordingsOutput{}
	out.Body.Items = make([]SegmentResponse, 0, len(segs))
	for _, s := range segs {
		out.Body.Items = append(out.Body.Items, toSegmentResponse(s))
	}
	return out, nil
}

// GetRecordingInput is the input for fetching one segment's metadata.
type GetRecordingInput struct {
	ID string `path:"id"`
}

// GetRecordingOutput is the output for fetching one segment's metadata.
type GetRecordingOutput struct {
	Body SegmentResponse
}

// GetRecording returns one segment's metadata.
func (h *RecordingHandler) GetRecording(ctx context.Context, input *GetRecordingInput) (*GetRecordingOutput, error) {
	segID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid segment id", err)
	}
	seg, err := h.catalog.GetSegment(ctx, segID)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &GetRecordingOutput{Body: toSegmentResponse(seg)}, nil
}

// EventResponse is the wire representation of one detection event.
type EventResponse struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

// ListEventsInput is the input for listing a segment's detection events.
type ListEventsInput struct {
	ID string `path:"id"`
}

// ListEventsOutput is the output for listing a segment's detection events.
type ListEventsOutput struct {
	Body struct {
		Items []EventResponse `json:"items"`
	}
}

// ListEvents lists every detection event recorded against a segment.
func (h *RecordingHandler) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	events, err := h.catalog.QueryEvents(ctx, "", input.ID, 0)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing events", err)
	}

	out := &ListEventsOutput{}
	out.Body.Items = make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out.Body.Items = append(out.Body.Items, EventResponse{
			ID: ev.ID.String(), Timestamp: ev.Timestamp, Label: ev.Label,
			Confidence: ev.Confidence, BBox: ev.BBox,
		})
	}
	return out, nil
}

// Play serves a segment's fMP4 file inline for browser playback.
func (h *RecordingHandler) Play(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, false)
}

// Download serves a segment's fMP4 file as an attachment.
func (h *RecordingHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, true)
}

func (h *RecordingHandler) serveFile(w http.ResponseWriter, r *http.Request, attachment bool) {
	id := chi.URLParam(r, "id")
	segID, err := models.ParseULID(id)
	if err != nil {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}
	seg, err := h.catalog.GetSegment(r.Context(), segID)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	if !seg.Complete {
		http.Error(w, "segment is not yet finalized", http.StatusConflict)
		return
	}
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+seg.ID.String()+`.mp4"`)
	}
	http.ServeFile(w, r, seg.Path)
}

func httpStatus(err error) int {
	kind, _ := models.KindOf(err)
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
