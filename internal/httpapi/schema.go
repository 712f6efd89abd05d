package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// webhookSchemaJSON constrains the change notification body before any
// sync work starts. Notifications come from an external push channel,
// so the shape is checked, not trusted. The body carries one changed
// cell: the sheet it happened on, its old and new value, and the acting
// user when the channel knows them.
const webhookSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["spreadsheetId"],
  "properties": {
    "spreadsheetId": {"type": "string", "minLength": 1},
    "sheetName": {"type": "string"},
    "oldValue": {"type": "string"},
    "value": {"type": "string"},
    "user": {
      "type": "object",
      "properties": {
        "nickname": {"type": "string"},
        "email": {"type": "string"}
      }
    }
  },
  "additionalProperties": true
}`

// webhookPayload is the decoded change notification.
type webhookPayload struct {
	SpreadsheetID string `json:"spreadsheetId"`
	SheetName     string `json:"sheetName"`
	OldValue      string `json:"oldValue"`
	Value         string `json:"value"`
	User          *struct {
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
	} `json:"user"`
}

func compileWebhookSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook.json", doc); err != nil {
		return nil, fmt.Errorf("register webhook schema: %w", err)
	}
	schema, err := compiler.Compile("webhook.json")
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return schema, nil
}

// validateWebhookBody checks raw JSON against the webhook schema and
// returns the decoded payload on success.
func validateWebhookBody(schema *jsonschema.Schema, body []byte) (webhookPayload, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return webhookPayload{}, fmt.Errorf("invalid json body: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return webhookPayload{}, err
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return webhookPayload{}, fmt.Errorf("decode webhook body: %w", err)
	}
	return payload, nil
}
