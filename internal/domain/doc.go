// Package domain defines the core business types for SendQuill.
//
// Types in this package are value objects with no database or HTTP
// dependencies. They are the shared language between handlers, services,
// the send pipeline and the store.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - Status strings coming from storage go through the Parse* functions,
//     which normalize casing to the canonical upper-case values
//   - Validation helpers are allowed as long as they are pure functions
package domain
