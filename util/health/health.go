// Package health folds the health checks of a service's dependencies into one status and a
// JSON report. Reports of nested services are embedded as they are.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Check struct {
	Name  string
	Check func(context.Context, bool) (int, string, error)
}

type dependency struct {
	Resource     string              `json:"resource"`
	Status       int                 `json:"status"`
	Error        string              `json:"error,omitempty"`
	Message      string              `json:"message,omitempty"`
	Dependencies jsoniter.RawMessage `json:"dependencies,omitempty"`
}

type report struct {
	Status       int          `json:"status"`
	Dependencies []dependency `json:"dependencies"`
}

// CheckAll runs every check in order. The result is http.StatusOK only when every check returned
// http.StatusOK without an error, otherwise http.StatusServiceUnavailable. Check errors are part
// of the report, not of the returned error.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	r := report{
		Status:       http.StatusOK,
		Dependencies: make([]dependency, 0, len(checks)),
	}

	for _, check := range checks {
		status, message, err := check.Check(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			r.Status = http.StatusServiceUnavailable
		}

		dep := dependency{
			Resource: check.Name,
			Status:   status,
		}

		if err != nil {
			dep.Error = err.Error()
		}

		if isReport(message) {
			dep.Dependencies = jsoniter.RawMessage(message)
		} else {
			dep.Message = message
		}

		r.Dependencies = append(r.Dependencies, dep)
	}

	out, err := json.Marshal(r)
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return r.Status, string(out), nil
}

func isReport(message string) bool {
	return len(message) > 1 && message[0] == '{' && message[len(message)-1] == '}' && jsoniter.Valid([]byte(message))
}
