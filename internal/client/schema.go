package client

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// PredictionSchema is the JSON schema a /predict response must satisfy.
const PredictionSchema = `{
  "type": "object",
  "required": ["sentiment"],
  "properties": {
    "sentiment":  {"type": "string", "minLength": 1},
    "quantized":  {"type": "boolean"},
    "latency_ms": {"type": "number", "minimum": 0}
  }
}`

// PredictRequestSchema is the JSON schema of a POST /predict body.
const PredictRequestSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text":     {"type": "string", "minLength": 1},
    "quantize": {"type": "boolean"}
  }
}`

var (
	predictionSchema     = mustSchema(PredictionSchema)
	predictRequestSchema = mustSchema(PredictRequestSchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid schema: %v", err))
	}
	return schema
}

// ValidatePrediction checks a response body against PredictionSchema.
func ValidatePrediction(body []byte) error {
	return validate(predictionSchema, body, errors.CodeResponseShape)
}

// ValidatePredictRequest checks a request body against PredictRequestSchema.
func ValidatePredictRequest(body []byte) error {
	return validate(predictRequestSchema, body, errors.CodeInvalidRequest)
}

func validate(schema *gojsonschema.Schema, body []byte, code string) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.Wrap(code, "malformed json body", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(code, "schema validation failed: "+strings.Join(msgs, "; "))
	}

	return nil
}
