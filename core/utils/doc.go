// Package utils provides value coercion helpers shared by the source reader,
// fingerprinting, and field mapping. Every conversion reports failure instead of
// silently producing a zero value.
package utils
