package agent

// Outcome is the tagged result every tool handler returns: either
// Success carrying structured data, or Failure carrying a message.
// Handlers signal operational failure through Failure, never through a Go
// error; the pipeline records both variants identically.
type Outcome struct {
	ok      bool
	data    map[string]interface{}
	message string
}

// Success builds a successful outcome. A nil data map is allowed.
func Success(data map[string]interface{}) Outcome {
	return Outcome{ok: true, data: data}
}

// Failure builds a failed outcome with a human-readable message.
func Failure(message string) Outcome {
	return Outcome{ok: false, message: message}
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool { return o.ok }

// Data returns the structured payload of a successful outcome.
func (o Outcome) Data() map[string]interface{} { return o.data }

// Message returns the failure message, or "" on success.
func (o Outcome) Message() string { return o.message }

// Payload renders the outcome as the plain result object recorded on the
// transcript and shown to the model.
func (o Outcome) Payload() map[string]interface{} {
	out := map[string]interface{}{"operation_successful": o.ok}
	if !o.ok {
		out["error_message"] = o.message
		return out
	}
	for k, v := range o.data {
		out[k] = v
	}
	return out
}

// stringField extracts a string value from the outcome data.
func (o Outcome) stringField(key string) string {
	if s, ok := o.data[key].(string); ok {
		return s
	}
	return ""
}

// intField extracts an integer value from the outcome data.
func (o Outcome) intField(key string) int {
	switch n := o.data[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
