// Package validation checks request bodies and configuration sections.
//
// Struct tag validation runs go-playground/validator with json field names:
//
//	type lookupRequest struct {
//	    QueryType  string `json:"query_type" validate:"required"`
//	    QueryInput string `json:"query_input" validate:"required,max=512"`
//	}
//	err := validation.Validate(req)
//
// Programmatic checks collect every failure before reporting:
//
//	v := validation.New()
//	v.Range("size", size, 1, 100).Min("page", page, 1)
//	err := v.Err()
//
// Both return an INVALID_INPUT AppError whose "fields" detail lists each
// failing field.
package validation
