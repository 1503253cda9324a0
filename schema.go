package apprun

import "fmt"

// Schema is the validator adapter the core consumes (spec.md §6
// "Validator adapter"): any object with a Parse method that returns the
// coerced value or an error, ignorant of which validation library
// produced it. Grounded on pkg/schema/schema.go's Schema interface.
type Schema interface {
	Parse(value any) (any, error)
}

// SchemaFunc adapts a plain function into a Schema, the Go equivalent of
// wrapping an arbitrary `{ parse }`-shaped object.
type SchemaFunc func(value any) (any, error)

func (f SchemaFunc) Parse(value any) (any, error) { return f(value) }

// ValidationFailure is the cause error schemas should return on failed
// validation; task/resource/event validation errors wrap it.
type ValidationFailure struct {
	Path    []string
	Message string
}

func (e *ValidationFailure) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%v: %s", e.Path, e.Message)
}

func parseIfSet(schema Schema, value any) (any, error) {
	if schema == nil {
		return value, nil
	}
	return schema.Parse(value)
}
