package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexlake/cdl/internal/api"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

const eventPath = "/event-service/v1/channels"

// DefaultChannel is the channel used when none is named.
const DefaultChannel = "EventFilter"

// Event stat counters.
const (
	StatEventPoll       = "event_poll"
	StatEventAck        = "event_ack"
	StatEventNack       = "event_nack"
	StatEventFlush      = "event_flush"
	StatEventGetFilters = "event_get_filters"
	StatEventSetFilters = "event_set_filters"
)

// Event wraps the Event Service channels.
type Event struct {
	base
}

// NewEvent creates an Event Service wrapper sharing client.
func NewEvent(client *api.Client) *Event {
	return &Event{base: newBase(client, "event",
		StatEventPoll, StatEventAck, StatEventNack, StatEventFlush, StatEventGetFilters, StatEventSetFilters)}
}

func (e *Event) channelRequest(ctx context.Context, stat, method, channelID, action string, body any, opts []CallOption) (*api.Response, error) {
	id, err := segment("channelId", channelID)
	if err != nil {
		return nil, err
	}
	return e.call(ctx, stat, api.Request{
		Method:   method,
		Endpoint: joinPath(eventPath, id, action),
		Body:     body,
	}, opts)
}

// Poll reads the next batch of events from channelID.
func (e *Event) Poll(ctx context.Context, channelID string, body any, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventPoll, http.MethodPost, channelID, "poll", body, opts)
}

// Ack moves the channel's start position to its current read position.
func (e *Event) Ack(ctx context.Context, channelID string, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventAck, http.MethodPost, channelID, "ack", nil, opts)
}

// Nack moves the channel's read position back to where it was before the last poll.
func (e *Event) Nack(ctx context.Context, channelID string, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventNack, http.MethodPost, channelID, "nack", nil, opts)
}

// Flush discards all events queued on the channel.
func (e *Event) Flush(ctx context.Context, channelID string, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventFlush, http.MethodPost, channelID, "flush", nil, opts)
}

// GetFilters returns the filters set on the channel.
func (e *Event) GetFilters(ctx context.Context, channelID string, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventGetFilters, http.MethodGet, channelID, "filters", nil, opts)
}

// SetFilters replaces the channel's filters.
func (e *Event) SetFilters(ctx context.Context, channelID string, body any, opts ...CallOption) (*api.Response, error) {
	return e.channelRequest(ctx, StatEventSetFilters, http.MethodPut, channelID, "filters", body, opts)
}

// XPollOptions controls Event.XPoll.
type XPollOptions struct {
	// Ack acknowledges each batch after its entries are visited.
	Ack bool
	// Follow keeps polling after the channel is drained.
	Follow bool
	// Pause between polls that return no events. Zero polls again at once.
	Pause time.Duration
}

// XPoll reads channelID until it is empty and passes every {logType,
// event} entry to fn.
func (e *Event) XPoll(ctx context.Context, channelID string, body any, xo XPollOptions, fn func(map[string]any) error, opts ...CallOption) error {
	policy := PollPolicy{Interval: xo.Pause}
	if xo.Pause <= 0 {
		policy = policy.immediate()
	}
	return policy.run(ctx, func() (pollStep, error) {
		resp, err := e.Poll(ctx, channelID, body, opts...)
		if err != nil {
			return stepDone, err
		}
		if !resp.OK() {
			return stepDone, eventError(resp)
		}
		var entries []map[string]any
		if err := resp.Decode(&entries); err != nil {
			return stepDone, err
		}
		if len(entries) == 0 && !xo.Follow {
			return stepDone, nil
		}
		for _, entry := range entries {
			if stop, err := visit(fn, entry); err != nil || stop {
				return stepDone, err
			}
		}
		if xo.Ack {
			if err := e.ackChecked(ctx, channelID, opts); err != nil {
				return stepDone, err
			}
		}
		if len(entries) == 0 {
			e.client.Logger().Debug("channel empty, pausing", "channelId", channelID, "pause", xo.Pause)
			return stepWait, nil
		}
		return stepNext, nil
	})
}

func (e *Event) ackChecked(ctx context.Context, channelID string, opts []CallOption) error {
	resp, err := e.Ack(ctx, channelID, opts...)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return eventError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return cdlerrors.ErrServerReported(fmt.Sprintf("ack: status_code: %d", resp.StatusCode))
	}
	return nil
}

// eventError reports a non-2xx event response, preferring errorCode and
// errorMessage from the body.
func eventError(resp *api.Response) error {
	body, err := resp.JSON()
	if err != nil {
		if resp.IsJSON() {
			return err
		}
		return resp.StatusError()
	}
	code, hasCode := body["errorCode"]
	msg, hasMsg := body["errorMessage"]
	if hasCode && hasMsg {
		return cdlerrors.ErrServerReported(fmt.Sprintf("%v: %v", code, msg))
	}
	return resp.StatusError()
}
