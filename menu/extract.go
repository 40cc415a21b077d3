package menu

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tablecraft/voiceorder/errors"
)

// AddToOrderSchema is the JSON Schema for the add_to_order tool arguments.
// It is both advertised to the provider in session.update and enforced on
// the completed call before extraction.
const AddToOrderSchema = `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "quantity": {"type": "integer", "minimum": 1},
          "modifiers": {
            "type": "array",
            "items": {"type": "string"}
          }
        }
      }
    }
  }
}`

var addToOrderSchema = gojsonschema.NewStringLoader(AddToOrderSchema)

// SpokenItem is one item as extracted by the conversational model, before
// any catalog matching.
type SpokenItem struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type addToOrderArgs struct {
	Items []SpokenItem `json:"items"`
}

// ParseAddToOrder validates and decodes the argument JSON of a completed
// add_to_order call. Schema violations are invalid-input errors, not
// protocol errors: the model produced well-formed JSON with the wrong shape.
func ParseAddToOrder(argsJSON string) ([]SpokenItem, error) {
	result, err := gojsonschema.Validate(addToOrderSchema, gojsonschema.NewStringLoader(argsJSON))
	if err != nil {
		return nil, errors.WrapInvalid(err, "menu", "ParseAddToOrder", "validate arguments")
	}
	if !result.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("arguments do not match add_to_order schema: %v", result.Errors()),
			"menu", "ParseAddToOrder", "validate arguments")
	}

	var args addToOrderArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, errors.WrapInvalid(err, "menu", "ParseAddToOrder", "unmarshal arguments")
	}

	for i := range args.Items {
		if args.Items[i].Quantity == 0 {
			args.Items[i].Quantity = 1
		}
	}
	return args.Items, nil
}
