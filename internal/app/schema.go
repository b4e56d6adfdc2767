package app

import (
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

var requestTypes = map[string]any{
	"order":           OrderRequest{},
	"order_patch":     OrderPatchRequest{},
	"transition":      TransitionRequest{},
	"payment":         PaymentRequest{},
	"open_item":       OpenItemRequest{},
	"open_item_patch": OpenItemPatchRequest{},
	"reconcile":       ReconcileRequest{},
	"reminder":        ReminderRequest{},
	"rates":           RatesRequest{},
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// SchemaNames lists the request bodies RequestSchema can describe.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for n := range requestTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RequestSchema returns the JSON Schema of a request body, or nil for an unknown name.
// Decimal amounts are accepted as JSON numbers or numeric strings.
func RequestSchema(name string) *jsonschema.Schema {
	v, ok := requestTypes[name]
	if !ok {
		return nil
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return &jsonschema.Schema{
					OneOf: []*jsonschema.Schema{
						{Type: "number"},
						{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`},
					},
				}
			}
			return nil
		},
	}
	return reflector.Reflect(v)
}
