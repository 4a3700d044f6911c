package webhook

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

const envelopeSchemaURL = "envelope.schema.json"

var envelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("webhook: decode envelope schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("webhook: add envelope schema: %v", err))
	}
	return c.MustCompile(envelopeSchemaURL)
}

func validateEnvelope(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return envelopeSchema.Validate(inst)
}
