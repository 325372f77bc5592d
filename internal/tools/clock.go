package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// CurrentTime returns the current_time tool descriptor. now is injectable
// so tests get deterministic output; pass nil for time.Now.
func CurrentTime(now func() time.Time) (*Descriptor, error) {
	schema, err := jsonschema.For[CurrentTimeInput](nil)
	if err != nil {
		return nil, fmt.Errorf("current_time schema: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	return &Descriptor{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a specific IANA timezone.",
		Schema:      schema,
		Enabled:     true,
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			loc := time.UTC
			if tz, _ := input["timezone"].(string); tz != "" {
				var err error
				loc, err = time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
			}

			t := now().In(loc)
			return map[string]any{
				"time":     t.Format(time.RFC3339),
				"timezone": loc.String(),
				"weekday":  t.Weekday().String(),
			}, nil
		},
	}, nil
}
