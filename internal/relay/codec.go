package relay

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/clipnotify"
)

// Status is the decoded form of a Status response.
type Status struct {
	Version          string    `json:"version"`
	Started          bool      `json:"started"`
	Handle           uint64    `json:"handle"`
	Notifications    uint64    `json:"notifications"`
	Subscribers      int       `json:"subscribers"`
	Faults           uint64    `json:"faults"`
	Watchers         int64     `json:"watchers"`
	LastNotification time.Time `json:"last_notification,omitzero"`
}

func encodeEvent(ev clipnotify.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"seq":  ev.Seq,
		"time": ev.Time.UTC().Format(time.RFC3339Nano),
	})
}

func decodeEvent(s *structpb.Struct) (clipnotify.Event, error) {
	f := s.GetFields()
	t, err := parseTime(f["time"].GetStringValue())
	if err != nil {
		return clipnotify.Event{}, err
	}
	return clipnotify.Event{
		Seq:  uint64(f["seq"].GetNumberValue()),
		Time: t,
	}, nil
}

func encodeStatus(st clipnotify.Stats, watchers int64, version string) (*structpb.Struct, error) {
	last := ""
	if !st.LastNotification.IsZero() {
		last = st.LastNotification.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]any{
		"version":           version,
		"started":           st.Started,
		"handle":            uint64(st.Handle),
		"notifications":     st.Notifications,
		"subscribers":       st.Subscribers,
		"faults":            st.Faults,
		"watchers":          watchers,
		"last_notification": last,
	})
}

// DecodeStatus converts a Status response.
func DecodeStatus(s *structpb.Struct) (Status, error) {
	f := s.GetFields()
	last, err := parseTime(f["last_notification"].GetStringValue())
	if err != nil {
		return Status{}, err
	}
	return Status{
		Version:          f["version"].GetStringValue(),
		Started:          f["started"].GetBoolValue(),
		Handle:           uint64(f["handle"].GetNumberValue()),
		Notifications:    uint64(f["notifications"].GetNumberValue()),
		Subscribers:      int(f["subscribers"].GetNumberValue()),
		Faults:           uint64(f["faults"].GetNumberValue()),
		Watchers:         int64(f["watchers"].GetNumberValue()),
		LastNotification: last,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("relay: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
