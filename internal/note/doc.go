// Package note defines the structured SOAP note model and its reconciliation:
// normalizing raw generated documents into complete notes with every field
// defaulted, and computing the added-line diff between successive versions.
package note
