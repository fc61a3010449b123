package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

// registerEvents streams lifecycle events as they are published. There is
// no replay: a client sees only events published while it is connected.
func registerEvents(api huma.API, h handlers) {
	bus := h.engine.Events
	sse.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Server-sent stream of lifecycle events",
	}, map[string]any{
		"lifecycle": domain.LifecycleEvent{},
	}, func(ctx context.Context, input *struct {
		Kinds      []string `query:"kind" doc:"Only these event kinds"`
		QuestionID int64    `query:"question_id"`
	}, send sse.Sender) {
		if bus == nil {
			return
		}
		sub := bus.Subscribe(ctx)
		defer sub.Close()
		filter := newEventFilter(input.Kinds)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case evt := <-sub.Events():
				if !filter.match(evt.Kind) {
					continue
				}
				if input.QuestionID != 0 && evt.QuestionID != input.QuestionID {
					continue
				}
				if err := send.Data(evt); err != nil {
					return
				}
			}
		}
	})
}
