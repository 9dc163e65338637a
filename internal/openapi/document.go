// Package openapi describes the gateway's HTTP surface as an OpenAPI 3 document.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

const (
	contentTypeMultipart = "multipart/form-data"
	documentVersion      = "1.0.0"
)

// Document builds the description of every gateway route. upstreamURL is
// only mentioned in the description.
func Document(upstreamURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       constants.GatewayName,
			Version:     documentVersion,
			Description: fmt.Sprintf("Gateway to the pronunciation API at %s.", upstreamURL),
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath(constants.PathRoot, &openapi3.PathItem{Get: rootOperation()}),
			openapi3.WithPath(constants.PathPing, &openapi3.PathItem{Get: pingOperation()}),
			openapi3.WithPath(constants.PathHealth, &openapi3.PathItem{Get: healthOperation()}),
			openapi3.WithPath(constants.PathLanguesSupportees, &openapi3.PathItem{Get: passThrough("languesSupportees", "Supported languages", nil)}),
			openapi3.WithPath(constants.PathExercice, &openapi3.PathItem{Get: exerciceOperation()}),
			openapi3.WithPath(constants.PathAjouterPhrase, &openapi3.PathItem{Post: ajouterPhraseOperation()}),
			openapi3.WithPath(constants.PathAnalysePrononciation, &openapi3.PathItem{Post: analyseOperation()}),
			openapi3.WithPath(constants.PathScore, &openapi3.PathItem{Post: scoreOperation()}),
		),
		Components: &openapi3.Components{Schemas: openapi3.Schemas{}},
	}
	for name, build := range componentSchemas {
		doc.Components.Schemas[name] = openapi3.NewSchemaRef("", build())
	}
	return doc
}

// Marshal renders the document as JSON.
func Marshal(doc *openapi3.T) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI document: %w", err)
	}
	return data, nil
}

// Handler serves the document. It is rendered once.
func Handler(doc *openapi3.T) (http.Handler, error) {
	data, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}), nil
}

func anyObject() *openapi3.Schema {
	return openapi3.NewObjectSchema().WithAnyAdditionalProperties()
}

func jsonResponse(description string, schema *openapi3.Schema) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(description).WithJSONSchema(schema)}
}

// componentSchemas are shared by reference from several responses.
var componentSchemas = map[string]func() *openapi3.Schema{
	"UpstreamError":   upstreamErrorSchema,
	"ValidationError": validationErrorSchema,
}

func refResponse(description, component string) *openapi3.ResponseRef {
	// The ref carries its value too so the document validates before it is
	// serialized and reloaded.
	ref := openapi3.NewSchemaRef("#/components/schemas/"+component, componentSchemas[component]())
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(description).
		WithJSONSchemaRef(ref)}
}

func upstreamErrorSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("detail", openapi3.NewStringSchema()).
		WithProperty("upstream_status", openapi3.NewIntegerSchema()).
		WithPropertyRef("data", openapi3.NewSchemaRef("", openapi3.NewSchema()))
}

func validationErrorSchema() *openapi3.Schema {
	item := openapi3.NewObjectSchema().
		WithProperty("loc", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("msg", openapi3.NewStringSchema()).
		WithProperty("type", openapi3.NewStringSchema())
	return openapi3.NewObjectSchema().WithProperty("detail", openapi3.NewArraySchema().WithItems(item))
}

// passThrough describes a route whose answer is the upstream's.
func passThrough(id, summary string, params openapi3.Parameters) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Tags = []string{"upstream"}
	op.Parameters = params
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, jsonResponse("Upstream answer, status preserved", openapi3.NewSchema())),
		openapi3.WithStatus(http.StatusBadGateway, refResponse("Upstream unreachable or answered with an error", "UpstreamError")),
	)
	return op
}

func withForm(op *openapi3.Operation, contentType string, schema *openapi3.Schema) *openapi3.Operation {
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithContent(openapi3.NewContentWithSchema(schema, []string{contentType}))}
	op.Responses.Set("422", refResponse("Missing required form field", "ValidationError"))
	return op
}

func rootOperation() *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = "root"
	op.Summary = "Gateway metadata"
	op.Tags = []string{"gateway"}
	op.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, jsonResponse("Service, upstream URL and routes",
		openapi3.NewObjectSchema().
			WithProperty("service", openapi3.NewStringSchema()).
			WithProperty("upstream_url", openapi3.NewStringSchema()).
			WithProperty("routes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())))))
	return op
}

func pingOperation() *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = "ping"
	op.Summary = "Upstream liveness with health fallback"
	op.Tags = []string{"gateway"}
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, jsonResponse("Upstream reachable", anyObject())),
		openapi3.WithStatus(http.StatusBadGateway, refResponse("Upstream unreachable", "UpstreamError")),
	)
	return op
}

func healthOperation() *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = "health"
	op.Summary = "Gateway health, no upstream call"
	op.Tags = []string{"gateway"}
	op.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, jsonResponse("Gateway is up",
		openapi3.NewObjectSchema().
			WithProperty("status", openapi3.NewStringSchema()).
			WithProperty("gateway", openapi3.NewStringSchema()).
			WithProperty("upstream_url", openapi3.NewStringSchema()))))
	return op
}

func exerciceOperation() *openapi3.Operation {
	return passThrough("exercice", "Exercise for a language", openapi3.Parameters{
		&openapi3.ParameterRef{Value: openapi3.NewPathParameter(constants.FieldLangue).WithSchema(openapi3.NewStringSchema())},
	})
}

func ajouterPhraseOperation() *openapi3.Operation {
	schema := openapi3.NewObjectSchema().
		WithProperty(constants.FieldLangue, openapi3.NewStringSchema()).
		WithProperty(constants.FieldPhrase, openapi3.NewStringSchema())
	schema.Required = []string{constants.FieldLangue, constants.FieldPhrase}
	return withForm(passThrough("ajouterPhrase", "Add a practice sentence", nil), constants.ContentTypeForm, schema)
}

func audioSchema(optional ...string) *openapi3.Schema {
	schema := openapi3.NewObjectSchema().
		WithProperty(constants.FieldFichier, openapi3.NewStringSchema().WithFormat("binary")).
		WithProperty(constants.FieldTexteCible, openapi3.NewStringSchema())
	for _, name := range optional {
		schema.WithProperty(name, openapi3.NewStringSchema())
	}
	schema.Required = []string{constants.FieldFichier, constants.FieldTexteCible}
	return schema
}

func analyseOperation() *openapi3.Operation {
	return withForm(passThrough("analysePrononciation", "Analyse a pronunciation recording", nil),
		contentTypeMultipart, audioSchema(constants.FieldLangueCible, constants.FieldAccent))
}

func scoreOperation() *openapi3.Operation {
	return withForm(passThrough("score", "Score a pronunciation recording", nil),
		contentTypeMultipart, audioSchema())
}
