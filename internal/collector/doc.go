// Package collector turns `go test -json` event streams into result records
// and hands each finished test to a ResultWriter.
package collector
