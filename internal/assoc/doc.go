// Package assoc maps observation rows back to the dense samples that
// produced them.
//
// An Index is built once from the combined row labels and is read-only
// afterwards, so a picking front end can hold a reference to it instead of
// sharing lookup tables through globals. Query errors are scoped to the
// call and leave the index usable.
package assoc
