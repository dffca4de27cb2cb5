package tools

import "context"

type sleepParams struct {
	Reason string `json:"reason,omitempty" jsonschema_description:"Optional note on why the agent is done for now"`
}

// NewSleepTool returns the rest-state tool. Calling it tells the loop the
// agent is finished with the current events; the auto_sleep_ok flag is the
// loop's stop signal.
func NewSleepTool() *Tool {
	return &Tool{
		Name:        "sleep",
		Description: "Finish processing and go back to sleep until new events arrive.",
		Schema:      GenerateSchema(&sleepParams{}),
		Handler: func(_ context.Context, req *Request) (any, error) {
			out := map[string]any{"status": "ok", "auto_sleep_ok": true}
			if reason, _ := req.Params["reason"].(string); reason != "" {
				out["reason"] = reason
			}
			return out, nil
		},
	}
}
