// Package mapping translates staged rows into the external API's record model.
//
// A rule set is a list of closed rule variants:
//
//   - Exact copies a field verbatim.
//   - Renamed copies a field under a new name, with an optional type coercion.
//   - Computed derives a field from several sources (Concat, Format).
//   - ValueSubstitution translates an enumeration through a lookup table.
//
// Mapping never drops a field silently. Every row yields either a complete
// ExternalRecord or FieldErrors naming each field that could not be produced;
// an enumeration value missing from a substitution table is one of them.
//
// Rule files are YAML:
//
//	rules:
//	  - kind: renamed
//	    source: po_number
//	    target: name
//	  - kind: substitution
//	    source: Country
//	    target: country_code
//	    table: {Cambodia: KH}
package mapping
