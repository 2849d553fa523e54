// Package client sends mapped records to the external API.
//
// Client splits records into calls that fit the Budget, spaces calls with a
// token-bucket limiter, classifies every response as SUCCESS, PARTIAL or ERROR
// and retries only transient failures. After a partial call only the records
// that failed transiently are sent again.
//
// MondayAPI is the GraphQL transport: one aliased mutation per call, with
// create_item for new records and change_multiple_column_values for records
// that already carry an external id.
package client
