package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/jobq"
)

// SubmitJobRequest is the body of POST /v1/jobs. Options use the wire
// form accepted by job.ParseOptions.
type SubmitJobRequest struct {
	Name    string          `json:"name" validate:"required,max=255"`
	Payload json.RawMessage `json:"payload"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ListJobsRequest holds the query of GET /v1/jobs.
type ListJobsRequest struct {
	State  string `json:"state" validate:"required,oneof=waiting delayed active completed failed stalled"`
	Queue  string `json:"queue"`
	Limit  int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset int    `json:"offset" validate:"gte=0"`
}

// CleanupRequest is the body of POST /v1/cleanup. OlderThan is a Go
// duration string such as "24h".
type CleanupRequest struct {
	State     string `json:"state" validate:"required,oneof=completed failed"`
	OlderThan string `json:"older_than" validate:"required"`
}

// CleanupResponse reports how many jobs a cleanup removed.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

const defaultListLimit = 100

var requestValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

// decodeJSON decodes and validates the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return jobq.NewValidationError("body", err.Error())
	}
	return validate(v)
}

// validate converts the first validator failure into a
// *jobq.ValidationError.
func validate(v any) error {
	err := requestValidator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return jobq.NewValidationError("", err.Error())
	}
	fe := verrs[0]
	reason := "failed " + fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = "must be one of " + fe.Param()
	case "gte", "lte", "max":
		reason = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return jobq.NewValidationError(fe.Field(), reason)
}
